package reactor

import (
	"bytes"
	"testing"
)

func TestByteBufferRoundTrip(t *testing.T) {
	var b ByteBuffer
	chunks := [][]byte{[]byte("hello "), []byte("world"), []byte("!")}
	var want []byte
	for _, c := range chunks {
		b.Append(c)
		want = append(want, c...)
	}
	got := b.Drain(len(want))
	if !bytes.Equal(got, want) {
		t.Fatalf("Drain() = %q, want %q", got, want)
	}
	if !b.Empty() {
		t.Fatalf("expected buffer empty after full drain")
	}
}

func TestByteBufferBoundedDrain(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("abcdefgh"))
	got := b.Drain(3)
	if string(got) != "abc" {
		t.Fatalf("Drain(3) = %q, want %q", got, "abc")
	}
	if b.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", b.Size())
	}
	rest := b.DrainAll()
	if string(rest) != "defgh" {
		t.Fatalf("DrainAll() = %q, want %q", rest, "defgh")
	}
}

func TestByteBufferDrainMoreThanAvailable(t *testing.T) {
	var b ByteBuffer
	b.Append([]byte("ab"))
	got := b.Drain(10)
	if string(got) != "ab" {
		t.Fatalf("Drain(10) = %q, want %q", got, "ab")
	}
	if !b.Empty() {
		t.Fatalf("expected empty buffer")
	}
}

func TestByteBufferCompactsAfterManyDrains(t *testing.T) {
	var b ByteBuffer
	for i := 0; i < 1000; i++ {
		b.Append([]byte("x"))
		b.Drain(1)
	}
	if !b.Empty() {
		t.Fatalf("expected empty buffer")
	}
	if cap(b.buf) > 64 {
		t.Fatalf("buffer did not compact, cap=%d", cap(b.buf))
	}
}
