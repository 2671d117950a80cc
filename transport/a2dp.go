package transport

import (
	"bytes"
	"context"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
	"github.com/bluetuith-org/transport-core/api/config"
	"github.com/bluetuith-org/transport-core/api/errorkinds"
	"golang.org/x/sys/unix"
)

// a2dpState holds the A2DP-specific fields of a Transport: its forward
// (music) PCM, its back-channel PCM (present for a handful of vendor
// codecs that carry a reverse control channel), the negotiated SEP
// configuration and the socket-level bookkeeping select-codec-a2dp and
// Acquire need (spec section 3, 4.3; supplemented from
// ba_transport_acquire/ba_transport_set_codec_a2dp).
type a2dpState struct {
	pcm   *PCM
	pcmBC *PCM

	delay int // base A2DP link delay, added to each PCM's own delay

	sepPath string
	codec   bluetooth.CodecID
	config  []byte

	outqInit int // TIOCOUTQ baseline captured right after Acquire
}

type a2dpVariant struct{}

// NewA2DP constructs an A2DP transport and registers it with d (spec
// section 4.1). sepPath identifies the BlueZ Stream End Point used for
// later SetConfiguration calls. The back-channel PCM is always allocated
// so pcmsLock/pcmsUnlock have a consistent pair to operate on. Both PCMs
// start with Channels == 0, so the insertAndNotify call here registers
// neither; ApplyCodecFormat sets their channel counts but registers
// nothing itself.
func NewA2DP(d *Device, owner, path, sepPath string, profile bluetooth.Profile, codec bluetooth.CodecID, mediator Mediator, registrar PCMRegistrar, cfg config.Configuration) *Transport {
	typ := bluetooth.TransportType{Profile: profile, Codec: codec}
	t := newTransport(d, owner, path, typ, mediator, registrar, cfg, a2dpVariant{})

	t.a2dp.sepPath = sepPath
	t.a2dp.codec = codec
	t.a2dp.pcm = newPCM(t, t.threadEnc, bluetooth.DirectionSink, 127)
	t.a2dp.pcmBC = newPCM(t, t.threadDec, bluetooth.DirectionSource, 127)

	t.insertAndNotify()
	return t
}

func (a2dpVariant) acquire(ctx context.Context, t *Transport, tryOnly bool) error {
	if t.State() == StateActive {
		return errorkinds.ErrBusy
	}

	t.btFdMu.Lock()
	defer t.btFdMu.Unlock()

	// acquire-a2dp issues a non-blocking TryAcquire whenever the transport
	// was already PENDING when the call started, in addition to an
	// explicit caller request (spec section 4.3): once set-state has
	// driven a sink-role transport into PENDING, the acquisition that
	// follows must not block waiting on the mediator.
	useTryAcquire := tryOnly || t.State() == StatePending

	t.setState(StatePending)

	var (
		reply AcquireReply
		err   error
	)
	if useTryAcquire {
		reply, err = t.mediator.TryAcquire(ctx, t.DBusOwner, t.DBusPath)
	} else {
		reply, err = t.mediator.Acquire(ctx, t.DBusOwner, t.DBusPath)
	}
	if err != nil {
		t.setState(StateIdle)
		return err
	}

	t.btFd = reply.Fd
	t.mtuRead = reply.MTURead
	t.mtuWrite = reply.MTUWrite

	sndbuf := int(reply.MTUWrite) * t.cfg.SendBufferMTUMultiplier
	if sndbuf > 0 {
		_ = unix.SetsockoptInt(t.btFd, unix.SOL_SOCKET, unix.SO_SNDBUF, sndbuf)
	}
	if outq, ioErr := unix.IoctlGetInt(t.btFd, unix.TIOCOUTQ); ioErr == nil {
		t.a2dp.outqInit = outq
	}

	t.setState(StateActive)
	return nil
}

func (a2dpVariant) release(t *Transport) error {
	err := t.mediator.Release(context.Background(), t.DBusOwner, t.DBusPath)
	if err != nil && errorkinds.IsMediatorGoneErr(err) {
		err = nil
	}
	if t.btFd != -1 {
		_ = closeFd(t.btFd)
		t.btFd = -1
	}
	t.setState(StateIdle)
	return err
}

func (a2dpVariant) selectCodec(ctx context.Context, t *Transport, codec bluetooth.CodecID, cfg []byte) error {
	t.typeMu.Lock()
	unchanged := t.a2dp.codec == codec && bytes.Equal(t.a2dp.config, cfg)
	t.typeMu.Unlock()
	if unchanged {
		return nil
	}

	if err := t.mediator.SetConfiguration(ctx, t.a2dp.sepPath, SEPConfiguration{
		CodecID:       codec,
		Configuration: cfg,
	}); err != nil {
		return err
	}

	// The mediator drives the actual transition asynchronously; record the
	// request so a repeated identical call is a no-op until it lands.
	t.typeMu.Lock()
	t.a2dp.codec = codec
	t.a2dp.config = append([]byte(nil), cfg...)
	t.typ.Codec = codec
	t.typeMu.Unlock()
	return nil
}
