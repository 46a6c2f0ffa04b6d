package srt

import "testing"

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func TestParseChunkExtractsNALs(t *testing.T) {
	chunk := annexB(
		[]byte{0x67, 0xAA, 0xBB}, // SPS (type 7)
		[]byte{0x68, 0xCC},       // PPS (type 8)
		[]byte{0x65, 0xDD, 0xEE}, // IDR slice (type 5)
	)

	f := parseChunk(chunk, false)
	if f == nil {
		t.Fatal("parseChunk returned nil for a valid Annex-B chunk")
	}
	if !f.Compressed {
		t.Fatal("Compressed = false, want true")
	}
	if len(f.NALUs) != 3 {
		t.Fatalf("got %d NALUs, want 3", len(f.NALUs))
	}
	if f.NALUs[2][0]&0x1F != 5 {
		t.Fatalf("third NAL type = %d, want 5 (IDR)", f.NALUs[2][0]&0x1F)
	}
}

func TestParseChunkReturnsNilForGarbage(t *testing.T) {
	if f := parseChunk([]byte{0x01, 0x02, 0x03}, false); f != nil {
		t.Fatalf("expected nil for a chunk with no start code, got %+v", f)
	}
}

func TestParseChunkH265(t *testing.T) {
	chunk := annexB([]byte{0x26, 0x01, 0xAA}) // H.265 NAL type 19 (IDR_W_RADL) in bits [6:1]
	f := parseChunk(chunk, true)
	if f == nil {
		t.Fatal("parseChunk returned nil for a valid H.265 Annex-B chunk")
	}
	if len(f.NALUs) != 1 {
		t.Fatalf("got %d NALUs, want 1", len(f.NALUs))
	}
}
