package hpack

import (
	"fmt"
	"math/rand"
	"testing"

	"golang.org/x/crypto/cryptobyte"
)

func fieldsEqual(a, b []HeaderField) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Value != b[i].Value {
			return false
		}
	}
	return true
}

// TestEncodeDecodeRoundTrip is the S1 scenario: encode a realistic request
// header set, decode it back, and check the dynamic tables on both sides
// stay in lockstep the way RFC 7541's worked examples (§C.2-C.6) require.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder(4096)
	var decoded []HeaderField
	dec := NewDecoder(4096, func(f HeaderField) { decoded = append(decoded, f) })

	requests := [][]HeaderField{
		{
			{Name: ":method", Value: "GET"},
			{Name: ":scheme", Value: "http"},
			{Name: ":path", Value: "/"},
			{Name: ":authority", Value: "www.example.com"},
		},
		{
			{Name: ":method", Value: "GET"},
			{Name: ":scheme", Value: "http"},
			{Name: ":path", Value: "/"},
			{Name: ":authority", Value: "www.example.com"},
			{Name: "cache-control", Value: "no-cache"},
		},
		{
			{Name: ":method", Value: "GET"},
			{Name: ":scheme", Value: "https"},
			{Name: ":path", Value: "/index.html"},
			{Name: ":authority", Value: "www.example.com"},
			{Name: "custom-key", Value: "custom-value"},
		},
	}

	for _, req := range requests {
		decoded = nil
		block := enc.EncodeFields(req)
		got, err := dec.DecodeFull(block)
		if err != nil {
			t.Fatalf("DecodeFull: %v", err)
		}
		if !fieldsEqual(got, req) {
			t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, req)
		}
	}
}

// TestDynamicTableNeverExceedsMaxSize is the invariant 3 property test:
// across any sequence of additions, the table's accounting size never
// exceeds its configured maximum.
func TestDynamicTableNeverExceedsMaxSize(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	dt := newDynamicTable(256)
	for i := 0; i < 500; i++ {
		name := fmt.Sprintf("x-header-%d", r.Intn(20))
		value := fmt.Sprintf("v%d", r.Intn(1000))
		dt.Add(HeaderField{Name: name, Value: value})
		if dt.Size() > dt.MaxSize() {
			t.Fatalf("dynamic table size %d exceeds max %d after %d adds", dt.Size(), dt.MaxSize(), i)
		}
	}
}

func TestDynamicTableSizeUpdateEvicts(t *testing.T) {
	dt := newDynamicTable(4096)
	for i := 0; i < 10; i++ {
		dt.Add(HeaderField{Name: fmt.Sprintf("h%d", i), Value: "0123456789012345678901234567890123456789"})
	}
	if dt.Size() == 0 {
		t.Fatalf("expected entries before resize")
	}
	dt.SetMaxSize(64)
	if dt.Size() > 64 {
		t.Fatalf("expected size <= 64 after shrink, got %d", dt.Size())
	}
}

func TestHuffmanRoundTrip(t *testing.T) {
	samples := []string{
		"",
		"www.example.com",
		"Mon, 21 Oct 2013 20:13:21 GMT",
		"https://www.example.com",
		"custom-key",
		"a",
		"The quick brown fox jumps over the lazy dog 0123456789!?",
	}
	for _, s := range samples {
		var b cryptobyte.Builder
		huffmanEncode(&b, s)
		got, err := huffmanDecode(b.BytesOrPanic())
		if err != nil {
			t.Fatalf("huffmanDecode(%q): %v", s, err)
		}
		if got != s {
			t.Fatalf("huffman round trip: got %q, want %q", got, s)
		}
	}
}

func TestStaticTableIndexedLookupKnownEntry(t *testing.T) {
	d := NewDecoder(4096, func(HeaderField) {})
	f, err := d.lookup(2)
	if err != nil {
		t.Fatalf("unexpected error looking up static index 2: %v", err)
	}
	if f.Name != ":method" || f.Value != "GET" {
		t.Fatalf("index 2 = %+v, want :method GET", f)
	}
}

func TestEncoderPrefersStaticTableForKnownPair(t *testing.T) {
	enc := NewEncoder(4096)
	block := enc.EncodeFields([]HeaderField{{Name: ":method", Value: "GET"}})
	if len(block) != 1 || block[0] != 0x82 {
		t.Fatalf("expected single indexed byte 0x82 for :method GET, got % x", block)
	}
}

// TestEncoderDefaultSensitivityForAuthHeaders checks that authorization
// and cookie headers get HPACK's never-indexed literal representation
// (RFC 7541 §6.2.3) even when the caller never set HeaderField.Sensitive,
// and that the value round-trips with Sensitive=true on decode.
func TestEncoderDefaultSensitivityForAuthHeaders(t *testing.T) {
	cases := []HeaderField{
		{Name: "authorization", Value: "Bearer supersecret"},
		{Name: "Cookie", Value: "session=abc123"},
		{Name: "set-cookie", Value: "session=abc123; HttpOnly"},
		{Name: "Proxy-Authorization", Value: "Basic dXNlcjpwYXNz"},
	}

	for _, f := range cases {
		enc := NewEncoder(4096)
		block := enc.EncodeFields([]HeaderField{f})
		if block[0]&0xf0 != 0x10 {
			t.Fatalf("%s: expected never-indexed literal (0001xxxx), got leading byte %#x", f.Name, block[0])
		}

		var decoded []HeaderField
		var gotSensitive bool
		dec := NewDecoder(4096, func(df HeaderField) {
			decoded = append(decoded, df)
			gotSensitive = df.Sensitive
		})
		if _, err := dec.DecodeFull(block); err != nil {
			t.Fatalf("%s: DecodeFull: %v", f.Name, err)
		}
		if !gotSensitive {
			t.Fatalf("%s: expected decoded field to round-trip Sensitive=true", f.Name)
		}
		if len(decoded) != 1 || decoded[0].Value != f.Value {
			t.Fatalf("%s: got %+v, want value %q", f.Name, decoded, f.Value)
		}

		// A never-indexed field must not land in the dynamic table: a
		// second identical field should encode as another literal, not a
		// full index reference into the dynamic table.
		block2 := enc.EncodeFields([]HeaderField{f})
		if block2[0]&0xf0 != 0x10 {
			t.Fatalf("%s: second write should still be never-indexed, got %#x (dynamic table leaked it)", f.Name, block2[0])
		}
	}
}

// TestEncoderRespectsExplicitSensitive checks that an arbitrary header
// name not in the default-sensitive set still gets never-indexed
// treatment when the caller explicitly sets Sensitive.
func TestEncoderRespectsExplicitSensitive(t *testing.T) {
	enc := NewEncoder(4096)
	block := enc.EncodeFields([]HeaderField{{Name: "x-api-key", Value: "topsecret", Sensitive: true}})
	if block[0]&0xf0 != 0x10 {
		t.Fatalf("expected never-indexed literal for an explicitly sensitive header, got %#x", block[0])
	}
}
