package hpack

// dynamicTable is the per-connection, per-direction table described by RFC
// 7541 §2.3.2 and §4: entries are added at the front and evicted from the
// back once the accounting size (§4.1) exceeds the negotiated maximum.
// Physically, entries is stored oldest-first with new entries appended at
// the tail and eviction re-slicing from the head, so both insert and evict
// are true amortized O(1): append grows the backing array only when its
// capacity is exhausted, and entries[1:] never copies.
type dynamicTable struct {
	entries []HeaderField // physical order: entries[0] oldest, entries[len-1] newest
	size    int           // current accounting size (RFC 7541 §4.1)
	maxSize int           // negotiated maximum (SETTINGS_HEADER_TABLE_SIZE)
	hardCap int           // maxSize at construction; SetMaxSize does not consult it
}

func newDynamicTable(maxSize int) *dynamicTable {
	return &dynamicTable{
		entries: make([]HeaderField, 0, 64),
		maxSize: maxSize,
		hardCap: maxSize,
	}
}

// Len returns the number of live entries.
func (t *dynamicTable) Len() int { return len(t.entries) }

// Size returns the current RFC 7541 §4.1 accounting size.
func (t *dynamicTable) Size() int { return t.size }

// MaxSize returns the negotiated maximum size.
func (t *dynamicTable) MaxSize() int { return t.maxSize }

// SetMaxSize applies a dynamic-table-size-update, evicting entries as
// needed. newMax must already be validated against any protocol ceiling by
// the caller (Decoder checks it against its own maxTableSize first).
func (t *dynamicTable) SetMaxSize(newMax int) {
	t.maxSize = newMax
	t.evictToFit()
}

// Add inserts f as the newest entry, evicting the oldest until the table
// fits within maxSize. A single field whose own size exceeds maxSize empties
// the table entirely and is not stored, per RFC 7541 §4.4.
func (t *dynamicTable) Add(f HeaderField) {
	if f.Size() > t.maxSize {
		t.entries = t.entries[:0]
		t.size = 0
		return
	}
	t.entries = append(t.entries, f)
	t.size += f.Size()
	t.evictToFit()
}

func (t *dynamicTable) evictToFit() {
	for t.size > t.maxSize && len(t.entries) > 0 {
		oldest := t.entries[0]
		t.entries = t.entries[1:]
		t.size -= oldest.Size()
	}
}

// Get returns the entry at dynamic index i (1-based, 1 = most recently
// added), matching the HPACK addressing scheme where dynamic-table indices
// follow directly after the static table.
func (t *dynamicTable) Get(i int) (HeaderField, bool) {
	n := len(t.entries)
	if i < 1 || i > n {
		return HeaderField{}, false
	}
	return t.entries[n-i], true
}

// findIndex returns the smallest dynamic index (1-based) holding an exact
// name+value match, and separately the smallest index holding just a name
// match, used by the encoder to prefer indexed-name literals. Walking from
// the tail (newest) means the first hit is already the smallest index.
func (t *dynamicTable) findIndex(f HeaderField) (full int, nameOnly int) {
	n := len(t.entries)
	for physIdx := n - 1; physIdx >= 0; physIdx-- {
		e := t.entries[physIdx]
		dynIdx := n - physIdx
		if full == 0 && e.Name == f.Name && e.Value == f.Value {
			full = dynIdx
		}
		if nameOnly == 0 && e.Name == f.Name {
			nameOnly = dynIdx
		}
	}
	return full, nameOnly
}
