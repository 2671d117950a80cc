package rfcomm

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bluetuith-org/transport-core/transport"
)

func pipeFds(t *testing.T) (r, w int) {
	t.Helper()
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = pr.Close()
		_ = pw.Close()
	})
	return int(pr.Fd()), int(pw.Fd())
}

func TestSessionSendSignalWritesATCommand(t *testing.T) {
	r, w := pipeFds(t)
	s := New(w)

	if err := s.SendSignal(transport.RFCOMMSetCodecMSBC); err != nil {
		t.Fatalf("SendSignal: %v", err)
	}

	buf := make([]byte, 32)
	n, err := os.NewFile(uintptr(r), "r").Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "AT+BCS=2,0\r" {
		t.Fatalf("wrote %q, want AT+BCS=2,0\\r", got)
	}
}

func TestSessionAwaitCodecSelectionRendezvous(t *testing.T) {
	_, w := pipeFds(t)
	s := New(w)

	done := make(chan error, 1)
	go func() {
		done <- s.AwaitCodecSelection(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	s.NotifyCodecSelected()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AwaitCodecSelection: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitCodecSelection did not return after NotifyCodecSelected")
	}
}

func TestSessionAwaitCodecSelectionTimeout(t *testing.T) {
	_, w := pipeFds(t)
	s := New(w)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.AwaitCodecSelection(ctx); err == nil {
		t.Fatal("AwaitCodecSelection = nil error, want context deadline error")
	}
}

func TestSessionDestroyIdempotent(t *testing.T) {
	_, w := pipeFds(t)
	s := New(w)

	s.Destroy()
	s.Destroy() // must not panic or double-close

	if err := s.SendSignal(transport.RFCOMMUpdateVolume); err == nil {
		t.Fatal("SendSignal after Destroy = nil error, want error")
	}
}
