// Package hpack implements the HPACK header compression format (RFC 7541)
// used by pkg/http2 to encode and decode HEADERS/CONTINUATION frame payloads.
package hpack

// HeaderField is a single name/value pair as carried by HPACK, mirroring
// RFC 7541 §1.3's "header field" terminology.
type HeaderField struct {
	Name      string
	Value     string
	Sensitive bool // literal-never-indexed: must not be re-encoded as indexed
}

// Size is the RFC 7541 §4.1 accounting size of the field: the length of its
// name and value plus 32 bytes of per-entry overhead. Used by the dynamic
// table to track and bound its size.
func (f HeaderField) Size() int {
	return len(f.Name) + len(f.Value) + 32
}
