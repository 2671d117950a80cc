// Package transport implements the object graph and lifecycle rules of the
// Bluetooth audio transport core: adapters, devices, transports, PCM
// endpoints and their worker-thread handles (spec section 2-5).
//
// The package depends only on the narrow collaborator interfaces named in
// spec section 6; concrete adapters for the mediator, the HCI stack and
// RFCOMM live in sibling packages (mediator, hci, rfcomm) and are wired in
// by the caller that constructs a Transport.
package transport

import (
	"context"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
	"github.com/google/uuid"
)

// AcquireReply is the result of a successful Acquire/TryAcquire call.
type AcquireReply struct {
	Fd       int
	MTURead  uint16
	MTUWrite uint16
}

// Mediator is the BlueZ-equivalent IPC surface a Transport calls into for
// A2DP acquisition and codec (re)configuration (spec section 6). One
// Mediator serves every transport under a given dbus_owner/dbus_path pair;
// implementations must be safe for concurrent use.
type Mediator interface {
	// Acquire requests exclusive use of the transport's remote socket.
	Acquire(ctx context.Context, owner, path string) (AcquireReply, error)

	// TryAcquire is Acquire's non-blocking counterpart, issued while the
	// transport is in the PENDING state.
	TryAcquire(ctx context.Context, owner, path string) (AcquireReply, error)

	// Release requests the mediator relinquish the transport's socket.
	// Implementations must classify NoReply/ServiceUnknown/UnknownObject
	// as errorkinds.ErrMediatorGone rather than a hard failure.
	Release(ctx context.Context, owner, path string) error

	// SetConfiguration asks the mediator to renegotiate the A2DP endpoint
	// configuration described by sep. The mediator drives the resulting
	// transition asynchronously via a later StateChanged callback.
	SetConfiguration(ctx context.Context, sepPath string, sep SEPConfiguration) error

	// SetVolume pushes a Bluetooth-scale volume level to the mediator's
	// Volume property.
	SetVolume(ctx context.Context, owner, path string, value uint16) error
}

// SEPConfiguration describes an A2DP Stream End Point target configuration
// for select-codec-a2dp (spec section 4.3).
type SEPConfiguration struct {
	CodecID       bluetooth.CodecID
	Configuration []byte
}

// HCI is the kernel HCI socket collaborator (spec section 6): opening,
// connecting and inspecting a raw SCO socket. The core treats it as an
// external interface; the concrete adapter is provided by package hci.
type HCI interface {
	// SCOOpen opens a raw SCO socket bound to the local adapter identified
	// by devID.
	SCOOpen(devID int) (fd int, err error)

	// SCOConnect connects an opened SCO socket to addr with the given
	// voice setting.
	SCOConnect(fd int, addr bluetooth.MacAddress, voice VoiceSetting) error

	// SCOMTU returns the kernel-reported MTU of a connected SCO socket.
	SCOMTU(fd int) (uint16, error)
}

// VoiceSetting selects the SCO link's voice coding, chosen from the
// transport's codec (spec section 4.4).
type VoiceSetting int

const (
	VoiceCVSD16Bit VoiceSetting = iota
	VoiceTransparent
)

// RFCOMMSignal is one of the control signals a Transport can enqueue on an
// RFCOMM session (spec section 6).
type RFCOMMSignal int

const (
	RFCOMMSetCodecCVSD RFCOMMSignal = iota
	RFCOMMSetCodecMSBC
	RFCOMMUpdateVolume
)

// RFCOMMSession is the AT-command carrying collaborator used by HFP voice
// links (spec section 6). The transport core never parses AT text; it only
// sends signals and waits on the codec-selection rendezvous.
type RFCOMMSession interface {
	// SendSignal enqueues sig for delivery over the RFCOMM channel.
	SendSignal(sig RFCOMMSignal) error

	// AwaitCodecSelection blocks until the RFCOMM session's peer has
	// confirmed a codec switch, or ctx is done.
	AwaitCodecSelection(ctx context.Context) error

	// Destroy tears down the RFCOMM session synchronously.
	Destroy()
}

// PCMRegistrar is the client-facing PCM registrar collaborator (spec
// section 6): it is told about PCM endpoints coming and going, and about
// updates to their externally visible state.
type PCMRegistrar interface {
	Register(path string, channels int)
	Unregister(path string)
	Update(path string, mask bluetooth.UpdateMask)
}

// CodecIOFunc is a worker-thread routine: it runs until ctx is cancelled or
// the thread handle is stopped, moving samples between the transport's
// remote socket and its PCM endpoint (spec section 4.5, 6).
type CodecIOFunc func(ctx context.Context, th *ThreadHandle) error

// CodecIO is the function-pointer pair (encoder, decoder) supplied per
// codec (spec section 6).
type CodecIO struct {
	Encoder CodecIOFunc
	Decoder CodecIOFunc
}

// ProfileUUID returns the Bluetooth SIG service-class UUID for a profile,
// used to pick a codec IO routine pair and to identify a SEP target in
// select-codec-a2dp.
func ProfileUUID(p bluetooth.Profile) uuid.UUID {
	switch p {
	case bluetooth.ProfileA2DPSource:
		return uuid.MustParse("0000110a-0000-1000-8000-00805f9b34fb")
	case bluetooth.ProfileA2DPSink:
		return uuid.MustParse("0000110b-0000-1000-8000-00805f9b34fb")
	case bluetooth.ProfileHFPHF:
		return uuid.MustParse("0000111e-0000-1000-8000-00805f9b34fb")
	case bluetooth.ProfileHFPAG:
		return uuid.MustParse("0000111f-0000-1000-8000-00805f9b34fb")
	case bluetooth.ProfileHSPHS:
		return uuid.MustParse("00001108-0000-1000-8000-00805f9b34fb")
	case bluetooth.ProfileHSPAG:
		return uuid.MustParse("00001112-0000-1000-8000-00805f9b34fb")
	default:
		return uuid.Nil
	}
}
