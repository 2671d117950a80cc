// Package mediator implements the transport package's Mediator collaborator
// against BlueZ's org.bluez.MediaTransport1 and org.bluez.MediaEndpoint1
// dbus interfaces (spec section 6). It is the one place in this module
// that speaks dbus directly; everything above it deals only in the narrow
// interface transport.Mediator describes.
package mediator

import (
	"context"
	"fmt"

	"github.com/bluetuith-org/transport-core/api/errorkinds"
	"github.com/bluetuith-org/transport-core/transport"
	"github.com/godbus/dbus/v5"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	mediaTransportIface = "org.bluez.MediaTransport1"
	mediaEndpointIface  = "org.bluez.MediaEndpoint1"
	propsIface          = "org.freedesktop.DBus.Properties"
)

// Mediator is the concrete dbus-backed transport.Mediator. One Mediator
// serves every transport sharing a bus connection; callers name the
// mediator object path per call, matching BlueZ's one-object-per-transport
// layout.
type Mediator struct {
	bus *dbus.Conn

	// inflight tracks each pending Acquire/TryAcquire call, keyed by an
	// opaque per-call sequence number handed out by nextSeq. The entry is
	// removed and its channel closed when the call returns; this package
	// offers no way to close it earlier, and Release, SetConfiguration and
	// SetVolume are not tracked.
	inflight *xsync.MapOf[uint64, chan struct{}]
	nextSeq  *xsync.Counter
}

// New wraps an already-connected system bus connection.
func New(bus *dbus.Conn) *Mediator {
	return &Mediator{
		bus:      bus,
		inflight: xsync.NewMapOf[uint64, chan struct{}](),
		nextSeq:  xsync.NewCounter(),
	}
}

func (m *Mediator) object(path string) dbus.BusObject {
	return m.bus.Object("org.bluez", dbus.ObjectPath(path))
}

func (m *Mediator) track() (uint64, chan struct{}) {
	m.nextSeq.Inc()
	seq := uint64(m.nextSeq.Value())
	done := make(chan struct{})
	m.inflight.Store(seq, done)
	return seq, done
}

func (m *Mediator) untrack(seq uint64) {
	if done, ok := m.inflight.LoadAndDelete(seq); ok {
		close(done)
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if dbusErr, ok := err.(dbus.Error); ok && errorkinds.IsMediatorBenign(dbusErr.Name) {
		return errorkinds.ErrMediatorGone
	}
	return err
}

// acquire is shared by Acquire and TryAcquire; they differ only in which
// dbus method they call.
func (m *Mediator) acquire(ctx context.Context, owner, path, method string) (transport.AcquireReply, error) {
	seq, done := m.track()
	defer m.untrack(seq)

	obj := m.object(path)

	var (
		fd       dbus.UnixFD
		mtuRead  uint16
		mtuWrite uint16
	)

	type result struct {
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		call := obj.Call(mediaTransportIface+"."+method, 0)
		if call.Err != nil {
			resCh <- result{err: classify(call.Err)}
			return
		}
		resCh <- result{err: call.Store(&fd, &mtuRead, &mtuWrite)}
	}()

	select {
	case <-ctx.Done():
		return transport.AcquireReply{}, ctx.Err()
	case <-done:
		return transport.AcquireReply{}, errorkinds.ErrAlreadyClosed
	case res := <-resCh:
		if res.err != nil {
			return transport.AcquireReply{}, res.err
		}
		return transport.AcquireReply{
			Fd:       int(fd),
			MTURead:  mtuRead,
			MTUWrite: mtuWrite,
		}, nil
	}
}

// Acquire implements transport.Mediator.
func (m *Mediator) Acquire(ctx context.Context, owner, path string) (transport.AcquireReply, error) {
	return m.acquire(ctx, owner, path, "Acquire")
}

// TryAcquire implements transport.Mediator.
func (m *Mediator) TryAcquire(ctx context.Context, owner, path string) (transport.AcquireReply, error) {
	return m.acquire(ctx, owner, path, "TryAcquire")
}

// Release implements transport.Mediator. NoReply/ServiceUnknown/
// UnknownObject are absorbed into errorkinds.ErrMediatorGone rather than
// propagated, since the far end being gone already accomplishes what
// Release was asking for.
func (m *Mediator) Release(ctx context.Context, owner, path string) error {
	call := m.object(path).CallWithContext(ctx, mediaTransportIface+".Release", 0)
	return classify(call.Err)
}

// SetConfiguration implements transport.Mediator by calling
// MediaEndpoint1.SetConfiguration on the SEP the transport was
// constructed against.
func (m *Mediator) SetConfiguration(ctx context.Context, sepPath string, sep transport.SEPConfiguration) error {
	props := map[string]dbus.Variant{
		"Codec":         dbus.MakeVariant(uint8(sep.CodecID)),
		"Configuration": dbus.MakeVariant(sep.Configuration),
	}
	call := m.object(sepPath).CallWithContext(ctx, mediaEndpointIface+".SetConfiguration", 0, dbus.ObjectPath(sepPath), props)
	return classify(call.Err)
}

// SetVolume implements transport.Mediator by setting the Volume property
// on the transport's MediaTransport1 object.
func (m *Mediator) SetVolume(ctx context.Context, owner, path string, value uint16) error {
	call := m.object(path).CallWithContext(ctx, propsIface+".Set", 0, mediaTransportIface, "Volume", dbus.MakeVariant(value))
	return classify(call.Err)
}

// StateChange is a parsed MediaTransport1.State property update, the
// dbus-side half of the A2DP state machine (spec section 4.3):
// select-codec-a2dp and BlueZ itself drive PENDING/ACTIVE/IDLE
// transitions asynchronously, and Listen is how the mediator surfaces
// them to a caller holding the corresponding Transport.
type StateChange struct {
	Path  string
	State transport.State
}

func parseTransportState(s string) (transport.State, bool) {
	switch s {
	case "idle":
		return transport.StateIdle, true
	case "pending":
		return transport.StatePending, true
	case "active":
		return transport.StateActive, true
	default:
		return transport.StateIdle, false
	}
}

// Listen subscribes to org.bluez.MediaTransport1's PropertiesChanged
// signal and pushes a StateChange onto changes for every State property
// update it observes, until ctx is done or the bus's signal channel
// closes. Callers are expected to resolve each update's Path to a
// Transport (e.g. via Device.Lookup) and call its SetState; the mediator
// itself holds no Transport references.
func (m *Mediator) Listen(ctx context.Context, changes chan<- StateChange) error {
	sigCh := make(chan *dbus.Signal, 16)
	m.bus.Signal(sigCh)
	defer m.bus.RemoveSignal(sigCh)

	if err := m.bus.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("mediator: AddMatchSignal: %w", err)
	}
	defer func() {
		_ = m.bus.RemoveMatchSignal(
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
		)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-sigCh:
			if !ok {
				return nil
			}
			change, ok := parsePropertiesChanged(sig)
			if !ok {
				continue
			}
			select {
			case changes <- change:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// parsePropertiesChanged extracts a StateChange from a raw
// org.freedesktop.DBus.Properties.PropertiesChanged signal, ignoring
// anything that isn't a MediaTransport1.State update.
func parsePropertiesChanged(sig *dbus.Signal) (StateChange, bool) {
	if sig == nil || len(sig.Body) < 2 {
		return StateChange{}, false
	}
	iface, _ := sig.Body[0].(string)
	if iface != mediaTransportIface {
		return StateChange{}, false
	}
	changed, _ := sig.Body[1].(map[string]dbus.Variant)
	v, ok := changed["State"]
	if !ok {
		return StateChange{}, false
	}
	raw, ok := v.Value().(string)
	if !ok {
		return StateChange{}, false
	}
	state, ok := parseTransportState(raw)
	if !ok {
		return StateChange{}, false
	}
	return StateChange{Path: string(sig.Path), State: state}, true
}
