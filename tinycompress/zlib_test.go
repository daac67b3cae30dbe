package tinycompress

import (
	"bytes"
	"compress/zlib"
	"io"
	"strings"
	"testing"
)

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	return out
}

func TestStore(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"dictionary", []byte(`{"version":"hpmon","commands":{"hpm_enable":3}}`)},
		{"one block", bytes.Repeat([]byte{0xA5}, MaxBlock)},
		{"two blocks", []byte(strings.Repeat("hpm_sample ", 7000))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Store(nil, tt.in)
			if len(out) != StoredSize(len(tt.in)) {
				t.Errorf("len = %d, StoredSize = %d", len(out), StoredSize(len(tt.in)))
			}
			if got := inflate(t, out); !bytes.Equal(got, tt.in) {
				t.Errorf("round trip mismatch: %d bytes in, %d out", len(tt.in), len(got))
			}
		})
	}
}

func TestStoreAppends(t *testing.T) {
	out := Store([]byte("prefix"), []byte("data"))
	if !bytes.HasPrefix(out, []byte("prefix")) {
		t.Fatalf("prefix lost: %q", out)
	}
	if got := inflate(t, out[len("prefix"):]); string(got) != "data" {
		t.Errorf("got %q", got)
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 16)
	io.WriteString(w, "hpm_read ")
	io.WriteString(w, "counter=%c")
	if buf.Len() != 0 {
		t.Error("Writer emitted output before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := inflate(t, buf.Bytes()); string(got) != "hpm_read counter=%c" {
		t.Errorf("got %q", got)
	}
	if _, err := w.Write([]byte("x")); err != ErrClosed {
		t.Errorf("Write after Close = %v", err)
	}
}
