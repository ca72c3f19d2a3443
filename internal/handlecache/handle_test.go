package handlecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-0")

	srv := NewServer(nil, 0)
	c := NewClient(nil, srv)
	defer c.Close()

	h, err := c.Open(path, ModeWrite, BufferInfinity, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Write(h, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.CloseHandle(h); err != nil {
		t.Fatalf("close: %v", err)
	}

	h2, err := c.Open(path, ModeRead, BufferUnbuffered, 0)
	if err != nil {
		t.Fatalf("reopen for read: %v", err)
	}
	buf := make([]byte, 5)
	n, err := c.Read(h2, buf, AtAbs(0))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected hello, got %q", buf[:n])
	}
}

func TestSecondWriterRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-0")

	c := NewClient(nil, nil)
	defer c.Close()

	h1, err := c.Open(path, ModeWrite, BufferInfinity, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.CloseHandle(h1)

	if _, err := c.Open(path, ModeWrite, BufferInfinity, 0); err == nil {
		t.Fatal("expected second writer to fail")
	}
}

func TestSoftCloseReopensTransparently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segment-0")

	c := NewClient(nil, nil)
	defer c.Close()

	h, err := c.Open(path, ModeWrite, BufferInfinity, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Write(h, []byte("abc")); err != nil {
		t.Fatalf("write: %v", err)
	}

	c.softClose(h)
	if h.file != nil {
		t.Fatal("expected OS handle closed")
	}

	if err := c.Write(h, []byte("def")); err != nil {
		t.Fatalf("write after soft close: %v", err)
	}
	c.CloseHandle(h)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "abcdef" {
		t.Fatalf("expected abcdef, got %q", data)
	}
}

func TestMaybeSeekElision(t *testing.T) {
	h := &Handle{offset: 10, atEOF: false}

	if needs, _ := h.maybeSeek(AtCur()); needs {
		t.Fatal("expected no seek for cur/0")
	}
	if needs, target := h.maybeSeek(AtAbs(10)); needs || target != 10 {
		t.Fatal("expected no seek when target equals current offset")
	}
	if needs, _ := h.maybeSeek(AtAbs(20)); !needs {
		t.Fatal("expected seek for a different absolute target")
	}

	h.atEOF = true
	if needs, _ := h.maybeSeek(AtEOFTarget()); needs {
		t.Fatal("expected no seek when already at eof and asking for eof")
	}
}

func TestApplyMaxEldestSinceUseSoftClosesOldHandles(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(nil, nil)
	defer c.Close()

	h, _ := c.Open(filepath.Join(dir, "a"), ModeWrite, BufferInfinity, 0)
	h.mu.Lock()
	h.lastUsed = time.Now().Add(-time.Hour)
	h.mu.Unlock()

	c.applyMaxEldestSinceUse(time.Minute)

	h.mu.Lock()
	closed := h.file == nil
	h.mu.Unlock()
	if !closed {
		t.Fatal("expected handle to be soft-closed")
	}
}
