package hpack

import (
	"strings"

	"golang.org/x/crypto/cryptobyte"
)

// defaultSensitiveNames holds header names that are marked never-indexed
// (RFC 7541 §6.2.3) even when the caller didn't set HeaderField.Sensitive,
// since HPACK's compression ratio is never worth the risk of a credential
// leaking into the dynamic table where a CRIME/compression-oracle style
// attack (or simple table-eviction logging) could expose it.
var defaultSensitiveNames = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
}

// isSensitive reports whether f must use HPACK's never-indexed literal
// representation: either the caller opted in explicitly, or the header
// name is one of defaultSensitiveNames.
func isSensitive(f HeaderField) bool {
	return f.Sensitive || defaultSensitiveNames[strings.ToLower(f.Name)]
}

// Encoder turns header fields into an HPACK-encoded header block,
// maintaining the sender-side dynamic table across calls.
type Encoder struct {
	dyn            *dynamicTable
	maxTableSize   int
	pendingResize  bool
	pendingNewSize int
}

// NewEncoder creates an Encoder with the given initial dynamic table size
// (the peer's advertised SETTINGS_HEADER_TABLE_SIZE).
func NewEncoder(maxTableSize int) *Encoder {
	return &Encoder{dyn: newDynamicTable(maxTableSize), maxTableSize: maxTableSize}
}

// SetMaxTableSize records a peer SETTINGS_HEADER_TABLE_SIZE change. The
// resulting dynamic-table-size-update is emitted at the start of the next
// EncodeFields call, per RFC 7541 §4.2.
func (e *Encoder) SetMaxTableSize(n int) {
	e.maxTableSize = n
	e.pendingResize = true
	e.pendingNewSize = n
}

// EncodeFields encodes a full ordered list of header fields into a single
// header block.
func (e *Encoder) EncodeFields(fields []HeaderField) []byte {
	var b cryptobyte.Builder
	if e.pendingResize {
		encodeInteger(&b, uint64(e.pendingNewSize), 5, 0x20)
		e.dyn.SetMaxSize(e.pendingNewSize)
		e.pendingResize = false
	}
	for _, f := range fields {
		e.writeField(&b, f)
	}
	return b.BytesOrPanic()
}

func (e *Encoder) writeField(b *cryptobyte.Builder, f HeaderField) {
	if isSensitive(f) {
		// Never indexed: skip both the full-index lookup and the dynamic
		// table insert, so the value never lands somewhere a later
		// full-index reference (or a table-eviction log) could expose it.
		e.writeLiteral(b, f, 4, 0x10, false)
		return
	}

	if full, ok := e.staticOrDynamicFullIndex(f); ok {
		encodeInteger(b, uint64(full), 7, 0x80)
		return
	}

	e.writeLiteral(b, f, 6, 0x40, true)
	e.dyn.Add(f)
}

// staticOrDynamicFullIndex looks for an exact name+value match, preferring
// the static table (fixed, zero-cost to reference) over the dynamic table.
func (e *Encoder) staticOrDynamicFullIndex(f HeaderField) (int, bool) {
	key := HeaderField{Name: f.Name, Value: f.Value}
	if idx, ok := staticFullIndex[key]; ok {
		return idx, true
	}
	if full, _ := e.dyn.findIndex(key); full > 0 {
		return full + staticTableSize, true
	}
	return 0, false
}

// writeLiteral writes a literal representation, using an indexed name when
// either table already holds f.Name, and Huffman-coding string literals
// whenever doing so is smaller.
func (e *Encoder) writeLiteral(b *cryptobyte.Builder, f HeaderField, prefixBits uint, highBits byte, _ bool) {
	nameIdx := e.nameIndex(f.Name)
	encodeInteger(b, uint64(nameIdx), prefixBits, highBits)
	if nameIdx == 0 {
		encodeStringLiteral(b, f.Name)
	}
	encodeStringLiteral(b, f.Value)
}

func (e *Encoder) nameIndex(name string) int {
	if idx, ok := staticNameIndex[name]; ok {
		return idx
	}
	if _, nameOnly := e.dyn.findIndex(HeaderField{Name: name}); nameOnly > 0 {
		return nameOnly + staticTableSize
	}
	return 0
}

// encodeStringLiteral writes an RFC 7541 §5.2 string literal, preferring
// Huffman coding when it produces fewer octets than the raw bytes.
func encodeStringLiteral(b *cryptobyte.Builder, s string) {
	if huffmanEncodedLen(s) < len(s) {
		encodeInteger(b, uint64(huffmanEncodedLen(s)), 7, 0x80)
		huffmanEncode(b, s)
		return
	}
	encodeInteger(b, uint64(len(s)), 7, 0x00)
	b.AddBytes([]byte(s))
}
