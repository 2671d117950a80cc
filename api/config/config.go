// Package config describes the runtime tunables of the transport core.
package config

import "time"

const (
	// DefaultMediatorTimeout is the default for Configuration.MediatorTimeout.
	// No call in this module applies it: mediator calls use the caller's
	// context (A2DP Release uses context.Background()) with no added deadline.
	DefaultMediatorTimeout = 10 * time.Second

	// DefaultCodecSwitchTimeout bounds how long select-codec-sco waits for
	// the RFCOMM codec_selection_completed rendezvous.
	DefaultCodecSwitchTimeout = 5 * time.Second

	// DefaultDrainPostSleep is the latency heuristic applied after a PCM
	// drain's synced rendezvous returns, to let the remote output buffer
	// finish draining (spec section 4.6, 9 open question (a)); the mediator
	// exposes no drain-complete signal.
	DefaultDrainPostSleep = 200 * time.Millisecond

	// DefaultSendBufferMTUMultiplier sets the A2DP socket's SO_SNDBUF to
	// this many multiples of the negotiated write MTU (spec section 4.3).
	DefaultSendBufferMTUMultiplier = 3

	// DefaultSignalPipeDepth is the buffer depth of a transport thread's
	// control-signal channel.
	DefaultSignalPipeDepth = 8
)

// Configuration describes the tunables of a transport core instance.
type Configuration struct {
	// MediatorTimeout is not applied to mediator RPCs by any call in this
	// module.
	MediatorTimeout time.Duration

	// CodecSwitchTimeout bounds the SCO codec-switch handshake.
	CodecSwitchTimeout time.Duration

	// DrainPostSleep is slept after a PCM drain's rendezvous completes.
	DrainPostSleep time.Duration

	// SendBufferMTUMultiplier scales the A2DP socket output buffer.
	SendBufferMTUMultiplier int

	// SignalPipeDepth is the control-signal channel buffer depth for each
	// transport worker thread.
	SignalPipeDepth int
}

// New returns a new Configuration with the documented defaults.
func New() Configuration {
	return Configuration{
		MediatorTimeout:         DefaultMediatorTimeout,
		CodecSwitchTimeout:      DefaultCodecSwitchTimeout,
		DrainPostSleep:          DefaultDrainPostSleep,
		SendBufferMTUMultiplier: DefaultSendBufferMTUMultiplier,
		SignalPipeDepth:         DefaultSignalPipeDepth,
	}
}
