package checksum

import (
	"strings"
	"testing"
)

func TestSum_KnownVector(t *testing.T) {
	got := Sum([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sum(abc) = %s, want %s", got, want)
	}
}

func TestDigest_Deterministic(t *testing.T) {
	data := []byte("the same bytes every time")
	d1, m1 := Digest(data)
	d2, m2 := Digest(append([]byte(nil), data...))
	if d1 != d2 || m1 != m2 {
		t.Errorf("Digest not stable: (%s,%s) vs (%s,%s)", d1, m1, d2, m2)
	}
}

func TestSniff_PNG(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	if got := Sniff(png); got != "image/png" {
		t.Errorf("Sniff(png) = %q, want image/png", got)
	}
}

func TestSniff_FallsBackToOctetStream(t *testing.T) {
	if got := Sniff(nil); got != DefaultMIME {
		t.Errorf("Sniff(nil) = %q", got)
	}
	if got := Sniff([]byte{0x13, 0x37, 0x00, 0x00, 0xbe, 0xef}); got != DefaultMIME {
		t.Errorf("Sniff(binary) = %q, want %q", got, DefaultMIME)
	}
}

func TestSniff_Text(t *testing.T) {
	if got := Sniff([]byte("hello world\n")); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("Sniff(text) = %q", got)
	}
}
