package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/transport-core/api/bluetooth"
	"github.com/bluetuith-org/transport-core/api/config"
	"github.com/bluetuith-org/transport-core/api/errorkinds"
	"github.com/bluetuith-org/transport-core/api/eventbus"
)

// variant is the per-profile behavior a Transport delegates to instead of
// the original's function-pointer table (spec section 9 REDESIGN FLAG:
// "replace function-pointer polymorphism with an interface or sum-type
// variant"). A2DP and SCO each implement it.
type variant interface {
	acquire(ctx context.Context, t *Transport, tryOnly bool) error
	release(t *Transport) error
	selectCodec(ctx context.Context, t *Transport, codec bluetooth.CodecID, cfg []byte) error
}

// State is the A2DP/SCO acquisition state machine (spec section 4.3).
type State int

const (
	StateIdle State = iota
	StatePending
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Transport is one acquired BlueZ media transport and the local resources
// attached to it: a remote socket, one or two PCM endpoints, and the
// worker threads moving samples across the socket (spec section 3).
type Transport struct {
	device *Device

	DBusOwner string
	DBusPath  string

	typ    bluetooth.TransportType
	typeMu sync.Mutex

	refCount int32 // accessed atomically

	btFdMu sync.Mutex
	btFd   int // -1 when not acquired
	mtuRead  uint16
	mtuWrite uint16

	state   State
	stateMu sync.Mutex

	codecIOMu sync.Mutex
	codecIO   CodecIO

	threadEnc *ThreadHandle
	threadDec *ThreadHandle

	mediator Mediator
	registrar PCMRegistrar
	cfg      config.Configuration

	v variant

	a2dp a2dpState
	sco  scoState
}

// Type returns the transport's profile/codec pair. Safe for concurrent
// use; callers that need to act on a stable snapshot should hold no
// assumption about it remaining unchanged across a SelectCodec call.
func (t *Transport) Type() bluetooth.TransportType {
	t.typeMu.Lock()
	defer t.typeMu.Unlock()
	return t.typ
}

// MTU returns the negotiated read/write MTU of the transport's remote
// socket, valid only while State() == StateActive.
func (t *Transport) MTU() (read, write uint16) {
	t.btFdMu.Lock()
	defer t.btFdMu.Unlock()
	return t.mtuRead, t.mtuWrite
}

// Fd returns the transport's remote socket descriptor, or -1 if not
// currently acquired. Codec IO routines use this to drive their own
// poll loop against the control-signal channel (spec section 4.5, 6).
func (t *Transport) Fd() int {
	t.btFdMu.Lock()
	defer t.btFdMu.Unlock()
	return t.btFd
}

// State returns the transport's current acquisition state.
func (t *Transport) State() State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

func (t *Transport) setState(s State) {
	t.stateMu.Lock()
	t.state = s
	t.stateMu.Unlock()
}

// SetCodecIO records the encoder/decoder routine pair set-state's ACTIVE
// transition should start (spec section 4.3, 4.5). Whatever selects a
// codec for this transport is expected to call this before the mediator
// reports the transport as active.
func (t *Transport) SetCodecIO(io CodecIO) {
	t.codecIOMu.Lock()
	t.codecIO = io
	t.codecIOMu.Unlock()
}

func (t *Transport) getCodecIO() CodecIO {
	t.codecIOMu.Lock()
	defer t.codecIOMu.Unlock()
	return t.codecIO
}

// SetState implements set-state(T, s), the A2DP state machine's single
// entry point (spec section 4.3): a mediator-side listener drives this as
// BlueZ moves a transport's State property through
// IDLE -> PENDING -> ACTIVE -> IDLE.
//
//   - ->PENDING: record the PENDING state; only an A2DP-SINK transport
//     then invokes acquire here (which, starting from PENDING, issues
//     TryAcquire). A source-role transport defers acquisition until a
//     client opens its PCM, so every other profile only records the state.
//   - ->ACTIVE: start the worker threads for whichever codec IO was last
//     recorded via SetCodecIO.
//   - ->IDLE, or anything else: stop both worker threads.
func (t *Transport) SetState(ctx context.Context, s State) error {
	switch s {
	case StatePending:
		t.setState(StatePending)
		if t.Type().Profile != bluetooth.ProfileA2DPSink {
			return nil
		}
		if err := t.v.acquire(ctx, t, false); err != nil && !errors.Is(err, errorkinds.ErrBusy) {
			return fault.Wrap(err, fctx.With(ctx), ftag.With(errorkinds.TagFor(err)),
				fmsg.With(fmt.Sprintf("set-state pending on transport %s", t.DBusPath)))
		}
		return nil
	case StateActive:
		t.setState(StateActive)
		if io := t.getCodecIO(); io.Encoder != nil || io.Decoder != nil {
			return t.StartWorkers(io)
		}
		return nil
	default:
		t.setState(StateIdle)
		t.threadEnc.Cancel()
		t.threadDec.Cancel()
		return nil
	}
}

// refLocked increments the reference count. Named for parity with the
// original's ba_transport_ref, which always runs with transports_mutex
// held; Go's atomic counter doesn't require that here, but callers still
// only ever call it from within Device's critical sections or from
// create(), matching the original's call sites.
func (t *Transport) refLocked() {
	atomic.AddInt32(&t.refCount, 1)
}

// unref decrements the reference count and, on reaching zero, frees the
// transport's resources. The decrement and the registry removal happen
// in one Device.dropRef critical section, not as a separate atomic
// decrement followed by a locked delete: splitting them would let a
// concurrent Lookup observe t still registered and hand out a fresh
// reference in the window between the decrement and the delete (spec
// section 4.2, 5's steal-before-free protocol).
func (t *Transport) unref() {
	if t.device.dropRef(t) {
		t.free()
	}
}

func (t *Transport) free() {
	for _, p := range t.pcms() {
		_ = p.Release()
	}

	t.btFdMu.Lock()
	if t.btFd != -1 {
		_ = closeFd(t.btFd)
		t.btFd = -1
	}
	t.btFdMu.Unlock()

	if t.sco.rfcomm != nil {
		t.sco.rfcomm.Destroy()
	}
}

// release closes the transport's remote socket through its variant,
// single-flighted under bt_fd_mtx (spec section 4.1, 4.3, 4.4, 5).
func (t *Transport) release() error {
	t.btFdMu.Lock()
	defer t.btFdMu.Unlock()
	if t.btFd == -1 {
		return nil
	}
	return t.v.release(t)
}

// newTransport allocates the shared scaffolding common to A2DP and SCO
// transports: ref count of one, device association, dbus owner/path and
// both thread handles. It neither builds PCM endpoints nor inserts t into
// the device registry: NewA2DP/NewSCO build the PCM endpoints first and
// only then register t through insertAndNotify.
func newTransport(d *Device, owner, path string, typ bluetooth.TransportType, mediator Mediator, registrar PCMRegistrar, cfg config.Configuration, v variant) *Transport {
	t := &Transport{
		device:    d,
		DBusOwner: owner,
		DBusPath:  path,
		typ:       typ,
		refCount:  1,
		btFd:      -1,
		mediator:  mediator,
		registrar: registrar,
		cfg:       cfg,
		v:         v,
	}
	t.threadEnc = newThreadHandle(t, "enc", cfg.SignalPipeDepth)
	t.threadDec = newThreadHandle(t, "dec", cfg.SignalPipeDepth)
	return t
}

// insertAndNotify finishes construction: registers t with its device and
// tells the PCM registrar about every PCM endpoint it exposes.
func (t *Transport) insertAndNotify() {
	t.device.insert(t)
	for _, p := range t.pcms() {
		if p.Registered() {
			t.registrar.Register(p.DBusPath(), p.Channels)
		}
	}
}

// pcms returns every PCM endpoint this transport owns, A2DP or SCO.
func (t *Transport) pcms() []*PCM {
	switch {
	case t.Type().Profile.IsA2DP():
		return []*PCM{t.a2dp.pcm, t.a2dp.pcmBC}
	case t.Type().Profile.IsSCO():
		return []*PCM{t.sco.spkPCM, t.sco.micPCM}
	default:
		return nil
	}
}

// Destroy tears a transport down in the order spec section 4.1 mandates:
// unregister every PCM from the client surface, synchronously destroy any
// RFCOMM session, synchronously cancel both worker threads, then release
// the remote socket and drop the construction reference.
func (t *Transport) Destroy() {
	for _, p := range t.pcms() {
		if p.Registered() {
			t.registrar.Unregister(p.DBusPath())
		}
	}

	if t.Type().Profile.IsSCO() && t.sco.rfcomm != nil {
		t.sco.rfcomm.Destroy()
	}

	t.threadEnc.Cancel()
	t.threadDec.Cancel()

	_ = t.pcmsLock()
	_ = t.release()
	_ = t.pcmsUnlock()

	t.unref()
}

// Acquire requests exclusive use of the transport's remote socket,
// dispatching to the A2DP or SCO variant (spec section 4.3, 4.4).
func (t *Transport) Acquire(ctx context.Context) error {
	if err := t.v.acquire(ctx, t, false); err != nil {
		return fault.Wrap(err, fctx.With(ctx), ftag.With(errorkinds.TagFor(err)),
			fmsg.With(fmt.Sprintf("acquire transport %s", t.DBusPath)))
	}
	return nil
}

// TryAcquire is Acquire's non-blocking counterpart (spec section 4.3).
func (t *Transport) TryAcquire(ctx context.Context) error {
	if err := t.v.acquire(ctx, t, true); err != nil {
		return fault.Wrap(err, fctx.With(ctx), ftag.With(errorkinds.TagFor(err)),
			fmsg.With(fmt.Sprintf("try-acquire transport %s", t.DBusPath)))
	}
	return nil
}

// StartWorkers spawns the encoder and/or decoder worker threads appropriate
// for the transport's direction, using the codec IO routines the caller
// selected for its current codec (spec section 4.5). It is a caller's
// responsibility to invoke this only after a successful Acquire; a second
// call is a no-op for whichever thread is already running.
func (t *Transport) StartWorkers(io CodecIO) error {
	if io.Encoder != nil {
		if err := t.threadEnc.create(io.Encoder); err != nil {
			return err
		}
	}
	if io.Decoder != nil {
		if err := t.threadDec.create(io.Decoder); err != nil {
			return err
		}
	}
	return nil
}

// SelectCodec renegotiates the transport's codec (spec section 4.3 for
// A2DP, 4.4 for SCO).
func (t *Transport) SelectCodec(ctx context.Context, codec bluetooth.CodecID, cfg []byte) error {
	if err := t.v.selectCodec(ctx, t, codec, cfg); err != nil {
		return fault.Wrap(err, fctx.With(ctx), ftag.With(errorkinds.TagFor(err)),
			fmsg.With(fmt.Sprintf("select codec on transport %s", t.DBusPath)))
	}
	return nil
}

// notify publishes a PcmUpdated event and tells the registrar, the two
// always-together steps spec section 4.7 requires of every state change.
func (t *Transport) notify(p *PCM, mask bluetooth.UpdateMask) {
	t.registrar.Update(p.DBusPath(), mask)
	eventbus.Publish(bluetooth.EventPCMUpdated, bluetooth.PCMUpdatedEvent{
		DBusPath: p.DBusPath(),
		Mask:     mask,
	})
}

func (t *Transport) diagnostic(component, message string, err error) {
	eventbus.Publish(bluetooth.EventDiagnostic, bluetooth.DiagnosticEvent{
		Component: component,
		Message:   message,
		Err:       err,
	})
}
