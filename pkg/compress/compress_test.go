package compress

import (
	"bytes"
	"strings"
	"testing"
)

func collectionPayload(n int) []byte {
	var b strings.Builder
	b.WriteString(`{"generatedFindings":[`)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"id":"fnd-`)
		b.WriteString(strings.Repeat("0", 3))
		b.WriteString(`","title":"Weak password policy","severity":"high","status":"open"}`)
	}
	b.WriteString(`]}`)
	return []byte(b.String())
}

func TestCompressor_RoundTrip(t *testing.T) {
	data := collectionPayload(20)

	for _, algo := range []Algorithm{AlgorithmZSTD, AlgorithmGzip, AlgorithmNone} {
		t.Run(string(algo), func(t *testing.T) {
			c := NewCompressor(algo, LevelDefault)
			compressed, err := c.Compress(data)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			out, err := c.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(data, out) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestCompressor_ContentEncoding(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		expected  string
	}{
		{AlgorithmZSTD, "zstd"},
		{AlgorithmGzip, "gzip"},
		{AlgorithmNone, ""},
	}
	for _, tt := range tests {
		if got := NewCompressor(tt.algorithm, LevelDefault).ContentEncoding(); got != tt.expected {
			t.Errorf("ContentEncoding(%s) = %q, want %q", tt.algorithm, got, tt.expected)
		}
	}
}

func TestMaybeCompress(t *testing.T) {
	c := NewCompressor(AlgorithmZSTD, LevelDefault)

	small := []byte(`{"a":1}`)
	body, enc := c.MaybeCompress(small, DefaultMinSize)
	if enc != "" || !bytes.Equal(body, small) {
		t.Errorf("small body should be left alone, got encoding %q", enc)
	}

	large := collectionPayload(100)
	body, enc = c.MaybeCompress(large, DefaultMinSize)
	if enc != "zstd" {
		t.Fatalf("encoding = %q, want zstd", enc)
	}
	if len(body) >= len(large) {
		t.Errorf("compressed body (%d) not smaller than original (%d)", len(body), len(large))
	}

	decoded, err := DecodeContent(enc, body)
	if err != nil {
		t.Fatalf("DecodeContent failed: %v", err)
	}
	if !bytes.Equal(decoded, large) {
		t.Error("DecodeContent mismatch")
	}

	var nilCompressor *Compressor
	if _, enc := nilCompressor.MaybeCompress(large, 0); enc != "" {
		t.Error("nil compressor should not compress")
	}
}

func TestDecodeContent_Unsupported(t *testing.T) {
	if _, err := DecodeContent("br", []byte("x")); err == nil {
		t.Error("expected error for unsupported encoding")
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := map[string]Algorithm{"": AlgorithmZSTD, "zstd": AlgorithmZSTD, "gzip": AlgorithmGzip, "none": AlgorithmNone}
	for in, want := range tests {
		got, err := ParseAlgorithm(in)
		if err != nil || got != want {
			t.Errorf("ParseAlgorithm(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseAlgorithm("lz4"); err == nil {
		t.Error("expected error for lz4")
	}
}
