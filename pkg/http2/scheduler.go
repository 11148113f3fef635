package http2

import (
	"github.com/google/btree"
)

// StreamMap is the connection's stream table, ordered by id. A B-tree (over
// a plain Go map) gives cheap ordered iteration, which GOAWAY processing
// ("close every stream above lastStreamId") and idle/leak sweeps both want.
type StreamMap struct {
	t *btree.BTreeG[*Stream]
}

func streamLess(a, b *Stream) bool { return a.ID < b.ID }

func newStreamMap() *StreamMap {
	return &StreamMap{t: btree.NewG[*Stream](32, streamLess)}
}

func (m *StreamMap) Get(id uint32) (*Stream, bool) {
	return m.t.Get(&Stream{ID: id})
}

func (m *StreamMap) Put(s *Stream) { m.t.ReplaceOrInsert(s) }

func (m *StreamMap) Delete(id uint32) { m.t.Delete(&Stream{ID: id}) }

func (m *StreamMap) Len() int { return m.t.Len() }

// AscendFrom iterates streams with id >= from, in increasing id order,
// until fn returns false.
func (m *StreamMap) AscendFrom(from uint32, fn func(*Stream) bool) {
	m.t.AscendGreaterOrEqual(&Stream{ID: from}, func(s *Stream) bool { return fn(s) })
}

// scheduleEntry is one stream's standing in the weighted round-robin write
// scheduler (spec §4.H: "streams are served in proportion to weight among
// dependents of the same parent; within equal weight, lowest id first").
type scheduleEntry struct {
	streamID uint32
	parentID uint32
	weight   int // wire weight + 1, i.e. the real RFC 7540 weight (1..256)
	credit   int
}

// WriteScheduler picks the next ready stream to write DATA for, using a
// deficit-round-robin credit scheme keyed by weight: each ready stream
// accrues credit proportional to its weight every round, and the
// highest-credit ready stream is chosen, ties broken by lowest stream id.
// Register records each stream's parent (and applies exclusive
// reparenting), but Next does not consult it: all ready streams compete in
// one pool regardless of their dependency.
type WriteScheduler struct {
	entries map[uint32]*scheduleEntry
	ready   map[uint32]bool
}

func NewWriteScheduler() *WriteScheduler {
	return &WriteScheduler{
		entries: make(map[uint32]*scheduleEntry),
		ready:   make(map[uint32]bool),
	}
}

// Register adds or updates a stream's scheduling parameters, applying
// RFC 7540 §5.3.1 reparenting: an exclusive dependency takes over its
// parent's other children.
func (s *WriteScheduler) Register(streamID, parentID uint32, weight uint8, exclusive bool) {
	e, ok := s.entries[streamID]
	if !ok {
		e = &scheduleEntry{streamID: streamID}
		s.entries[streamID] = e
	}
	e.parentID = parentID
	e.weight = int(weight) + 1

	if exclusive {
		for id, other := range s.entries {
			if id != streamID && other.parentID == parentID {
				other.parentID = streamID
			}
		}
	}
}

func (s *WriteScheduler) Remove(streamID uint32) {
	delete(s.entries, streamID)
	delete(s.ready, streamID)
}

func (s *WriteScheduler) MarkReady(streamID uint32) {
	if _, ok := s.entries[streamID]; !ok {
		s.entries[streamID] = &scheduleEntry{streamID: streamID, weight: 16}
	}
	s.ready[streamID] = true
}

func (s *WriteScheduler) MarkNotReady(streamID uint32) {
	delete(s.ready, streamID)
}

// Next returns the next ready stream id to service, or (0, false) if none
// are ready. Each call accrues credit for every ready stream proportional
// to its weight, then picks the highest-credit stream (lowest id breaks
// ties), deducting a fixed quantum from the winner.
func (s *WriteScheduler) Next() (uint32, bool) {
	if len(s.ready) == 0 {
		return 0, false
	}
	const quantum = 256
	for id := range s.ready {
		e := s.entries[id]
		w := e.weight
		if w <= 0 {
			w = 16
		}
		e.credit += w
	}

	var winner uint32
	var winnerCredit = -1
	var found bool
	for id := range s.ready {
		e := s.entries[id]
		if !found || e.credit > winnerCredit || (e.credit == winnerCredit && id < winner) {
			winner = id
			winnerCredit = e.credit
			found = true
		}
	}
	if !found {
		return 0, false
	}
	s.entries[winner].credit -= quantum
	return winner, true
}
