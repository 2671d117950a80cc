package transport

import (
	"context"
	"sync"
)

// ThreadHandle is the identity of one worker thread attached to a
// Transport: its control-signal channel and a readiness rendezvous (spec
// section 3). Rather than encoding "no running worker" as a sentinel OS
// thread identity compared against the process main thread (spec section 9
// design notes), a ThreadHandle carries an explicit Running flag.
type ThreadHandle struct {
	t    *Transport
	role string // "enc" or "dec", used for logging/thread naming only

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	sig chan Signal

	readyOnce sync.Once
	readyCh   chan struct{}
}

// newThreadHandle allocates a ThreadHandle with its control channel ready
// to receive; the channel is sized per the transport's configuration, a
// loose analogue of the non-blocking control pipe of spec section 6.
func newThreadHandle(t *Transport, role string, pipeDepth int) *ThreadHandle {
	if pipeDepth <= 0 {
		pipeDepth = 1
	}
	return &ThreadHandle{
		t:       t,
		role:    role,
		sig:     make(chan Signal, pipeDepth),
		readyCh: make(chan struct{}),
	}
}

// Running reports whether a worker is currently attached.
func (th *ThreadHandle) Running() bool {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.running
}

// Signals returns the receive side of the control channel; only the worker
// routine reads from it.
func (th *ThreadHandle) Signals() <-chan Signal {
	return th.sig
}

// SendSignal enqueues sig for the worker routine. Writers and readers on a
// given ThreadHandle's channel are otherwise unsynchronized; the channel is
// the serialization point (spec section 4.5).
func (th *ThreadHandle) SendSignal(sig Signal) {
	select {
	case th.sig <- sig:
	default:
		// Channel full: drop the oldest signal's effect rather than block
		// the control thread indefinitely. This can only happen if the
		// worker is wedged, in which case cancel/join will unblock it.
		select {
		case <-th.sig:
		default:
		}
		th.sig <- sig
	}
}

// Ready marks the worker as initialized and wakes create's waiter. Must be
// called exactly once by the worker routine before it does any IO.
func (th *ThreadHandle) Ready() {
	th.mu.Lock()
	th.running = true
	th.mu.Unlock()

	th.readyOnce.Do(func() { close(th.readyCh) })
}

// create spawns the worker routine, taking a reference on t for the
// duration of its run (spec section 4.5: "a thread handle whose id ==
// main_thread means no worker thread running" is realized here as
// Running() == false until Ready is observed, and false again after
// Cancel's join completes).
func (th *ThreadHandle) create(fn CodecIOFunc) error {
	th.mu.Lock()
	if th.running || th.cancel != nil {
		th.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	th.cancel = cancel
	th.done = make(chan struct{})
	th.readyCh = make(chan struct{})
	th.readyOnce = sync.Once{}
	done := th.done
	th.mu.Unlock()

	th.t.refLocked()

	go func() {
		defer close(done)
		defer th.cleanup()
		_ = fn(ctx, th)
	}()

	<-th.readyCh
	return nil
}

// cleanup runs on every terminal path of the worker routine: under the
// transport's PCM locks, release the transport's remote socket (so
// descriptors are closed even on cancellation), then drop the reference
// taken at create (spec section 4.5, 9).
func (th *ThreadHandle) cleanup() {
	th.t.pcmsLock()
	_ = th.t.release()
	th.t.pcmsUnlock()

	th.mu.Lock()
	th.running = false
	th.mu.Unlock()

	th.t.unref()
}

// cancel requests cancellation and joins, unconditionally. After it
// returns, no worker routine can still be touching the Transport (spec
// section 4.5, 5).
func (th *ThreadHandle) Cancel() {
	th.mu.Lock()
	cancel := th.cancel
	done := th.done
	th.cancel = nil
	th.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}
