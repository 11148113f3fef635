package hpack

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Decoder turns HPACK-encoded header block fragments back into header
// fields, maintaining the receiver-side dynamic table across calls (RFC
// 7541 §2.3 scopes the dynamic table to a single HTTP/2 connection, not a
// single header block).
type Decoder struct {
	dyn          *dynamicTable
	maxTableSize int // protocol ceiling, set from SETTINGS_HEADER_TABLE_SIZE
	emit         func(HeaderField)
}

// NewDecoder creates a Decoder with the given maximum dynamic table size
// (the value this endpoint advertises via SETTINGS_HEADER_TABLE_SIZE).
func NewDecoder(maxTableSize int, emit func(HeaderField)) *Decoder {
	return &Decoder{
		dyn:          newDynamicTable(maxTableSize),
		maxTableSize: maxTableSize,
		emit:         emit,
	}
}

// SetMaxTableSize updates the protocol ceiling (e.g. after a local SETTINGS
// change takes effect) and shrinks the table if it is currently larger.
func (d *Decoder) SetMaxTableSize(n int) {
	d.maxTableSize = n
	if d.dyn.MaxSize() > n {
		d.dyn.SetMaxSize(n)
	}
}

// Decode parses data (a fragment of a header block, e.g. a single frame's
// payload) and invokes the Decoder's configured emit callback for each
// field found. Used by pkg/http2 to stream fields out of a HEADERS frame
// and any CONTINUATION frames as they arrive.
func (d *Decoder) Decode(data []byte) error {
	s := cryptobyte.String(data)
	for !s.Empty() {
		if err := d.decodeOne(&s); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFull decodes a complete header block (the concatenation of a
// HEADERS frame and any CONTINUATION frames, per RFC 7540 §4.3) and returns
// every field found, in wire order.
func (d *Decoder) DecodeFull(data []byte) ([]HeaderField, error) {
	var fields []HeaderField
	prevEmit := d.emit
	d.emit = func(f HeaderField) { fields = append(fields, f) }
	defer func() { d.emit = prevEmit }()

	s := cryptobyte.String(data)
	for !s.Empty() {
		if err := d.decodeOne(&s); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func (d *Decoder) decodeOne(s *cryptobyte.String) error {
	var first uint8
	if !s.ReadUint8(&first) {
		return fmt.Errorf("hpack: empty representation")
	}

	switch {
	case first&0x80 != 0: // 1xxxxxxx: indexed header field
		idx, err := decodeInteger(s, first, 7)
		if err != nil {
			return err
		}
		f, err := d.lookup(idx)
		if err != nil {
			return err
		}
		d.emit(f)
		return nil

	case first&0xc0 == 0x40: // 01xxxxxx: literal with incremental indexing
		f, err := d.decodeLiteral(s, first, 6)
		if err != nil {
			return err
		}
		d.dyn.Add(f)
		d.emit(f)
		return nil

	case first&0xf0 == 0x00: // 0000xxxx: literal without indexing
		f, err := d.decodeLiteral(s, first, 4)
		if err != nil {
			return err
		}
		d.emit(f)
		return nil

	case first&0xf0 == 0x10: // 0001xxxx: literal never indexed
		f, err := d.decodeLiteral(s, first, 4)
		if err != nil {
			return err
		}
		f.Sensitive = true
		d.emit(f)
		return nil

	case first&0xe0 == 0x20: // 001xxxxx: dynamic table size update
		n, err := decodeInteger(s, first, 5)
		if err != nil {
			return err
		}
		if int(n) > d.maxTableSize {
			return fmt.Errorf("hpack: dynamic table size update %d exceeds ceiling %d", n, d.maxTableSize)
		}
		d.dyn.SetMaxSize(int(n))
		return nil

	default:
		return fmt.Errorf("hpack: unrecognized representation 0x%02x", first)
	}
}

// decodeLiteral decodes the name/value of a literal representation whose
// prefix byte already had its top bits consumed by the caller. prefixBits
// is the size of the name-index prefix in the first byte.
func (d *Decoder) decodeLiteral(s *cryptobyte.String, first uint8, prefixBits uint) (HeaderField, error) {
	nameIdx, err := decodeInteger(s, first, prefixBits)
	if err != nil {
		return HeaderField{}, err
	}
	var name string
	if nameIdx == 0 {
		name, err = decodeString(s)
		if err != nil {
			return HeaderField{}, err
		}
	} else {
		f, err := d.lookupName(nameIdx)
		if err != nil {
			return HeaderField{}, err
		}
		name = f.Name
	}
	value, err := decodeString(s)
	if err != nil {
		return HeaderField{}, err
	}
	return HeaderField{Name: name, Value: value}, nil
}

// decodeString reads an RFC 7541 §5.2 string literal: a 1-bit Huffman flag,
// a 7-bit-prefixed length, then that many octets (raw or Huffman-coded).
func decodeString(s *cryptobyte.String) (string, error) {
	var first uint8
	if !s.ReadUint8(&first) {
		return "", fmt.Errorf("hpack: truncated string literal")
	}
	huffman := first&0x80 != 0
	length, err := decodeInteger(s, first, 7)
	if err != nil {
		return "", err
	}
	var raw []byte
	if !s.ReadBytes(&raw, int(length)) {
		return "", fmt.Errorf("hpack: string literal shorter than declared length %d", length)
	}
	if huffman {
		return huffmanDecode(raw)
	}
	return string(raw), nil
}

func (d *Decoder) lookup(idx uint64) (HeaderField, error) {
	if idx == 0 {
		return HeaderField{}, fmt.Errorf("hpack: index 0 is not valid")
	}
	if int(idx) <= staticTableSize {
		return staticTable[idx], nil
	}
	f, ok := d.dyn.Get(int(idx) - staticTableSize)
	if !ok {
		return HeaderField{}, fmt.Errorf("hpack: index %d out of range", idx)
	}
	return f, nil
}

func (d *Decoder) lookupName(idx uint64) (HeaderField, error) {
	return d.lookup(idx)
}
