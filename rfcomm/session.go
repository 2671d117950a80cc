// Package rfcomm implements the transport package's RFCOMMSession
// collaborator: the small slice of the HFP AT-command channel the
// transport core needs — codec-switch signaling and its completion
// rendezvous (spec section 4.4, 6). Parsing the AT protocol itself is an
// explicit non-goal; this package only multiplexes the two outcomes the
// core cares about onto a fd it does not otherwise interpret.
package rfcomm

import (
	"context"
	"sync"

	"github.com/bluetuith-org/transport-core/transport"
	"golang.org/x/sys/unix"
)

// Session is a minimal RFCOMM channel wrapper: enough to send the three
// signals transport.RFCOMMSignal names and to know when a codec switch
// the core requested has been confirmed by the peer.
//
// The caller (an AT-command engine living outside this module's scope) is
// expected to call NotifyCodecSelected when it observes the peer's
// +BCS confirmation. SendSignal writes the AT text for each signal
// directly to the fd through writeSignal.
type Session struct {
	fd int

	mu        sync.Mutex
	destroyed bool

	completedMu sync.Mutex
	completed   *sync.Cond
	generation  uint64
}

// New wraps an already-connected RFCOMM socket fd.
func New(fd int) *Session {
	s := &Session{fd: fd}
	s.completed = sync.NewCond(&s.completedMu)
	return s
}

// SendSignal implements transport.RFCOMMSession by writing the fixed AT
// command text associated with sig (see writeSignal) to the session fd. A
// signal with no associated text writes nothing. The AT command grammar
// itself is out of scope.
func (s *Session) SendSignal(sig transport.RFCOMMSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return unix.EBADF
	}
	return writeSignal(s.fd, sig)
}

// AwaitCodecSelection implements transport.RFCOMMSession: it blocks until
// NotifyCodecSelected is called at least once after entry, or ctx is
// done.
func (s *Session) AwaitCodecSelection(ctx context.Context) error {
	s.completedMu.Lock()
	target := s.generation + 1
	s.completedMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.completedMu.Lock()
		for s.generation < target {
			s.completed.Wait()
		}
		s.completedMu.Unlock()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyCodecSelected wakes any AwaitCodecSelection call currently
// blocked. The caller's AT engine invokes this when it parses the peer's
// codec-selection confirmation.
func (s *Session) NotifyCodecSelected() {
	s.completedMu.Lock()
	s.generation++
	s.completedMu.Unlock()
	s.completed.Broadcast()
}

// Destroy implements transport.RFCOMMSession, closing the underlying fd
// synchronously. Safe to call more than once.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	_ = unix.Close(s.fd)
}

func writeSignal(fd int, sig transport.RFCOMMSignal) error {
	var cmd string
	switch sig {
	case transport.RFCOMMSetCodecCVSD:
		cmd = "AT+BCS=1,0\r"
	case transport.RFCOMMSetCodecMSBC:
		cmd = "AT+BCS=2,0\r"
	case transport.RFCOMMUpdateVolume:
		cmd = "AT+VGS\r"
	default:
		return nil
	}
	_, err := unix.Write(fd, []byte(cmd))
	return err
}
