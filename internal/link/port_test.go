package link

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReplayPort_Loops(t *testing.T) {
	p, err := NewReplayPort([]byte("abc"))
	if err != nil {
		t.Fatalf("NewReplayPort() error = %v", err)
	}
	buf := make([]byte, 7)
	if _, err := io.ReadFull(p, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(buf) != "abcabca" {
		t.Errorf("read %q, want %q", buf, "abcabca")
	}
	if p.Loops() != 2 {
		t.Errorf("Loops() = %d, want 2", p.Loops())
	}
	if n, err := p.Write([]byte("xyz")); n != 3 || err != nil {
		t.Errorf("Write() = %d, %v", n, err)
	}
	p.Close()
	if _, err := p.Read(buf); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Read after Close error = %v, want ErrPortClosed", err)
	}
}

func TestReplayPort_Empty(t *testing.T) {
	if _, err := NewReplayPort(nil); err == nil {
		t.Error("expected error for empty stream")
	}
}

func TestOpenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	p, err := OpenReplay(path)
	if err != nil {
		t.Fatalf("OpenReplay() error = %v", err)
	}
	defer p.Close()
	buf := make([]byte, 4)
	if _, err := io.ReadFull(p, buf); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}

	if _, err := OpenReplay(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTestablePort_BlockingRead(t *testing.T) {
	p := NewTestablePort()
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		n, _ := p.Read(buf)
		got <- buf[:n]
	}()

	time.Sleep(10 * time.Millisecond)
	p.AddReadData([]byte("ping"))

	select {
	case b := <-got:
		if string(b) != "ping" {
			t.Errorf("Read() = %q, want ping", b)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked read never woke")
	}
}

func TestTestablePort_CloseUnblocks(t *testing.T) {
	p := NewTestablePort()
	errc := make(chan error, 1)
	go func() {
		_, err := p.Read(make([]byte, 1))
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	p.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrPortClosed) {
			t.Errorf("Read() error = %v, want ErrPortClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock reader")
	}
}

func TestTestablePort_Flush(t *testing.T) {
	p := NewTestablePort()
	p.AddReadData([]byte("stale"))
	if err := p.ResetInputBuffer(); err != nil {
		t.Fatalf("ResetInputBuffer() error = %v", err)
	}
	if p.Pending() != 0 || p.Flushes != 1 {
		t.Errorf("Pending() = %d, Flushes = %d", p.Pending(), p.Flushes)
	}
}
