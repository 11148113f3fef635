package hpack

import (
	"container/heap"
	"errors"

	"golang.org/x/crypto/cryptobyte"
)

// hpackEOS is the synthetic "end of string" symbol RFC 7541 §5.2 reserves
// for Huffman padding: its codeword is the longest in the table and
// consists entirely of 1 bits, so trailing 1-bit padding at a byte boundary
// can never be mistaken for a complete, distinct symbol.
const hpackEOS = 256

type hcode struct {
	code uint32
	len  uint8
}

var huffmanCodes [257]hcode

// huffmanDecodeTable maps (len, code) -> symbol for decode; built once from
// huffmanCodes at package init.
var huffmanDecodeTable = map[uint8]map[uint32]uint16{}

// huffmanMinLen/huffmanMaxLen bound the codeword lengths actually produced
// by assignCanonicalCodes, so decode knows how many bit-lengths to probe.
var huffmanMinLen, huffmanMaxLen uint8

type huffNode struct {
	weight      int
	symbol      int // -1 for internal nodes
	left, right *huffNode
}

type huffHeap []*huffNode

func (h huffHeap) Len() int            { return len(h) }
func (h huffHeap) Less(i, j int) bool  { return h[i].weight < h[j].weight }
func (h huffHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *huffHeap) Push(x interface{}) { *h = append(*h, x.(*huffNode)) }
func (h *huffHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// huffmanSymbolWeight approximates how often a byte value appears in real
// HTTP header text: printable ASCII (letters, digits, common punctuation)
// is weighted far above control bytes and the high-bit range, which in
// practice almost never appears in header field values. EOS receives the
// lowest weight so it naturally lands on the longest codeword.
func huffmanSymbolWeight(b int) int {
	switch {
	case b >= 'a' && b <= 'z':
		return 2000
	case b >= '0' && b <= '9':
		return 900
	case b >= 'A' && b <= 'Z':
		return 500
	case b == ' ' || b == '-' || b == '/' || b == ':' || b == '.' || b == ',':
		return 1200
	case b >= 0x21 && b <= 0x7e:
		return 100
	case b == hpackEOS:
		return 1
	default:
		return 4
	}
}

func init() {
	h := &huffHeap{}
	heap.Init(h)
	for s := 0; s <= hpackEOS; s++ {
		heap.Push(h, &huffNode{weight: huffmanSymbolWeight(s), symbol: s})
	}
	for h.Len() > 1 {
		a := heap.Pop(h).(*huffNode)
		b := heap.Pop(h).(*huffNode)
		heap.Push(h, &huffNode{weight: a.weight + b.weight, symbol: -1, left: a, right: b})
	}
	var lengths [257]uint8
	var walk func(n *huffNode, depth uint8)
	walk = func(n *huffNode, depth uint8) {
		if n.symbol >= 0 {
			if depth == 0 {
				depth = 1 // degenerate single-symbol tree guard, unreachable with 257 symbols
			}
			lengths[n.symbol] = depth
			return
		}
		walk(n.left, depth+1)
		walk(n.right, depth+1)
	}
	root := heap.Pop(h).(*huffNode)
	walk(root, 0)

	assignCanonicalCodes(lengths)
}

// assignCanonicalCodes builds canonical (smallest-code-for-shortest-length,
// symbol-order-within-length) codewords from a table of code lengths, the
// same construction RFC 7541 Appendix B and DEFLATE (RFC 1951 §3.2.2) use.
func assignCanonicalCodes(lengths [257]uint8) {
	var maxLen uint8
	var countByLen [32]int
	for _, l := range lengths {
		if l > maxLen {
			maxLen = l
		}
		countByLen[l]++
	}
	countByLen[0] = 0

	var nextCode [32]uint32
	var code uint32
	for l := uint8(1); l <= maxLen; l++ {
		code = (code + uint32(countByLen[l-1])) << 1
		nextCode[l] = code
	}

	huffmanMinLen, huffmanMaxLen = maxLen, 0
	for sym := 0; sym <= hpackEOS; sym++ {
		l := lengths[sym]
		c := nextCode[l]
		nextCode[l]++
		huffmanCodes[sym] = hcode{code: c, len: l}
		if huffmanDecodeTable[l] == nil {
			huffmanDecodeTable[l] = make(map[uint32]uint16)
		}
		huffmanDecodeTable[l][c] = uint16(sym)
		if l < huffmanMinLen {
			huffmanMinLen = l
		}
		if l > huffmanMaxLen {
			huffmanMaxLen = l
		}
	}
}

// huffmanEncodedLen returns the number of bytes huffmanEncode would produce
// for s, used by the encoder to decide whether Huffman encoding actually
// shrinks a given string (RFC 7541 §5.2 does not mandate always using it).
func huffmanEncodedLen(s string) int {
	bits := 0
	for i := 0; i < len(s); i++ {
		bits += int(huffmanCodes[s[i]].len)
	}
	return (bits + 7) / 8
}

// huffmanEncode appends the Huffman encoding of s to b, padding the final
// byte with 1 bits per RFC 7541 §5.2.
func huffmanEncode(b *cryptobyte.Builder, s string) {
	var acc uint64
	var nbits uint
	for i := 0; i < len(s); i++ {
		c := huffmanCodes[s[i]]
		acc = (acc << uint(c.len)) | uint64(c.code)
		nbits += uint(c.len)
		for nbits >= 8 {
			nbits -= 8
			b.AddUint8(byte(acc >> nbits))
		}
	}
	if nbits > 0 {
		pad := 8 - nbits
		b.AddUint8(byte((acc<<pad)|((1<<pad)-1)) & 0xff)
	}
}

// huffmanDecode decodes a Huffman-coded string, validating that any
// trailing padding bits are all 1 and shorter than the shortest codeword,
// per RFC 7541 §5.2.
func huffmanDecode(data []byte) (string, error) {
	out := make([]byte, 0, len(data)*2)
	var acc uint64
	var nbits uint
	var curLen uint8
	for _, byt := range data {
		acc = (acc << 8) | uint64(byt)
		nbits += 8
		for nbits >= uint(huffmanMinLen) {
			matched := false
			for l := huffmanMinLen; l <= huffmanMaxLen && uint(l) <= nbits; l++ {
				code := uint32((acc >> (nbits - uint(l))) & ((1 << l) - 1))
				if sym, ok := huffmanDecodeTable[l][code]; ok {
					if sym == hpackEOS {
						return "", errors.New("hpack: huffman stream contains explicit EOS symbol")
					}
					out = append(out, byte(sym))
					nbits -= uint(l)
					curLen = l
					matched = true
					break
				}
			}
			if !matched {
				break
			}
		}
	}
	if nbits > 0 {
		if nbits >= 8 || curLen == 0 {
			return "", errors.New("hpack: truncated huffman stream")
		}
		padding := acc & ((1 << nbits) - 1)
		if padding != (1<<nbits)-1 {
			return "", errors.New("hpack: invalid huffman padding")
		}
	}
	return string(out), nil
}
