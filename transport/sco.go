package transport

import (
	"context"
	"fmt"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
	"github.com/bluetuith-org/transport-core/api/config"
	"github.com/bluetuith-org/transport-core/api/errorkinds"
)

// wrapIO tags a raw collaborator error as errorkinds.ErrIO so the public
// API boundary in transport.go picks the right fault tag for it.
func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", errorkinds.ErrIO, err)
}

// scoState holds the SCO/HFP-specific fields of a Transport: its two
// fixed-direction PCM endpoints (speaker and microphone), the HCI
// collaborator used to open the link and the RFCOMM session that carries
// the codec-switch handshake (spec section 3, 4.4).
type scoState struct {
	spkPCM *PCM
	micPCM *PCM

	hci      HCI
	rfcomm   RFCOMMSession
	adapter  int // HCI device index to bind the SCO socket to
	address  bluetooth.MacAddress
}

type scoVariant struct{}

// NewSCO constructs an SCO transport and registers it with d (spec
// section 4.1, 4.4). codec pins the initial voice coding: HSP links and
// links on an adapter without eSCO support are constructed directly with
// CVSD, per the precedence ba_transport_new encodes (HSP mask check
// first, then the adapter's eSCO capability) for links that cannot run
// the mSBC codec-switch handshake at all.
func NewSCO(d *Device, owner, path string, profile bluetooth.Profile, codec bluetooth.CodecID, addr bluetooth.MacAddress, adapterID int, hci HCI, mediator Mediator, registrar PCMRegistrar, cfg config.Configuration) *Transport {
	if profile.IsHSP() || !d.Adapter.ESCOSupported {
		codec = bluetooth.HFPCodecCVSD
	}

	typ := bluetooth.TransportType{Profile: profile, Codec: codec}
	t := newTransport(d, owner, path, typ, mediator, registrar, cfg, scoVariant{})

	t.sco.hci = hci
	t.sco.adapter = adapterID
	t.sco.address = addr
	// Both PCMs attach to the single encoder thread: SCO uses one worker,
	// not one per direction (spec section 3 invariant 5, 4.1, 9 open
	// question (b)). threadDec is allocated but never started for SCO.
	t.sco.spkPCM = newPCM(t, t.threadEnc, bluetooth.DirectionSink, 15)
	t.sco.micPCM = newPCM(t, t.threadEnc, bluetooth.DirectionSource, 15)

	t.insertAndNotify()
	return t
}

// AttachRFCOMM wires the RFCOMM session used for the codec-switch
// handshake and volume signaling (spec section 4.4, 6). Constructed
// separately from NewSCO because the RFCOMM channel is typically
// established after the transport object itself.
func (t *Transport) AttachRFCOMM(s RFCOMMSession) {
	t.btFdMu.Lock()
	t.sco.rfcomm = s
	t.btFdMu.Unlock()
}

func voiceSettingFor(codec bluetooth.CodecID) VoiceSetting {
	if codec == bluetooth.HFPCodecMSBC {
		return VoiceTransparent
	}
	return VoiceCVSD16Bit
}

func (scoVariant) acquire(ctx context.Context, t *Transport, _ bool) error {
	if t.State() == StateActive {
		return errorkinds.ErrBusy
	}

	t.btFdMu.Lock()
	defer t.btFdMu.Unlock()

	t.setState(StatePending)

	fd, err := t.sco.hci.SCOOpen(t.sco.adapter)
	if err != nil {
		t.setState(StateIdle)
		return wrapIO(err)
	}

	voice := voiceSettingFor(t.Type().Codec)
	if err := t.sco.hci.SCOConnect(fd, t.sco.address, voice); err != nil {
		_ = closeFd(fd)
		t.setState(StateIdle)
		return wrapIO(err)
	}

	mtu, err := t.sco.hci.SCOMTU(fd)
	if err != nil {
		_ = closeFd(fd)
		t.setState(StateIdle)
		return wrapIO(err)
	}

	t.btFd = fd
	t.mtuRead = mtu
	t.mtuWrite = mtu
	t.setState(StateActive)
	return nil
}

func (scoVariant) release(t *Transport) error {
	if t.btFd != -1 {
		_ = closeFd(t.btFd)
		t.btFd = -1
	}
	t.setState(StateIdle)
	return nil
}

// selectCodec runs the HFP codec-switch handshake (spec section 4.4):
// release both PCMs, release bt_fd, ask RFCOMM to request the new codec,
// wait for the peer's confirmation, then record the requested codec as the
// transport's codec. A nil AwaitCodecSelection return is the only check
// made: the codec is not read back from the RFCOMM side, so a confirmation
// of a different codec is not detected. HSP links, links with no RFCOMM session, and a request for
// mSBC on an adapter without eSCO support reject this outright, matching
// the original's refusal to run the handshake on links that never
// negotiated it.
func (scoVariant) selectCodec(ctx context.Context, t *Transport, codec bluetooth.CodecID, _ []byte) error {
	if t.Type().Profile.IsHSP() || t.sco.rfcomm == nil {
		return errorkinds.ErrNotSupported
	}
	if codec == bluetooth.HFPCodecMSBC && !t.device.Adapter.ESCOSupported {
		return errorkinds.ErrNotSupported
	}
	if t.Type().Codec == codec {
		return nil
	}

	if err := t.pcmsLock(); err != nil {
		return err
	}
	_ = t.sco.spkPCM.releaseLocked()
	_ = t.sco.micPCM.releaseLocked()
	_ = t.pcmsUnlock()

	if err := t.release(); err != nil {
		return err
	}

	sig := RFCOMMSetCodecCVSD
	if codec == bluetooth.HFPCodecMSBC {
		sig = RFCOMMSetCodecMSBC
	}
	if err := t.sco.rfcomm.SendSignal(sig); err != nil {
		return wrapIO(err)
	}

	switchCtx, cancel := context.WithTimeout(ctx, t.cfg.CodecSwitchTimeout)
	defer cancel()
	if err := t.sco.rfcomm.AwaitCodecSelection(switchCtx); err != nil {
		return wrapIO(err)
	}

	// AwaitCodecSelection only returns nil once the peer has actually
	// confirmed the switch; take that as ground truth for the new codec
	// rather than re-deriving it from a separate notification path.
	t.typeMu.Lock()
	t.typ.Codec = codec
	t.typeMu.Unlock()

	if t.Type().Codec != codec {
		return errorkinds.ErrIO
	}
	return nil
}
