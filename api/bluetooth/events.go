package bluetooth

// UpdateMask enumerates what changed in a PcmUpdated event (spec section
// 4.7, 6: "update(P, mask) where mask enumerates {VOLUME, ...}").
type UpdateMask int

const (
	UpdateVolume UpdateMask = iota
	UpdateDelay
	UpdateCodec
)

func (m UpdateMask) String() string {
	switch m {
	case UpdateVolume:
		return "volume"
	case UpdateDelay:
		return "delay"
	case UpdateCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// eventID is the concrete eventbus.EventID implementation for every event
// this package publishes; each is a distinct dense integer so pubsub can
// route them independently.
type eventID struct {
	value uint
	name  string
}

func (e eventID) Value() uint    { return e.value }
func (e eventID) String() string { return e.name }

var (
	// EventPCMUpdated is published whenever a PCM endpoint's externally
	// visible state changes (volume, delay, codec-triggered format change).
	EventPCMUpdated = eventID{value: 1, name: "pcm-updated"}

	// EventDiagnostic carries events that would otherwise be a silent
	// logged-and-continued failure (spec section 7): thread cancel errors,
	// volume-property-set errors, RFCOMM teardown errors.
	EventDiagnostic = eventID{value: 2, name: "diagnostic"}
)

// PCMUpdatedEvent is the payload published on EventPCMUpdated.
type PCMUpdatedEvent struct {
	DBusPath string
	Mask     UpdateMask
}

// DiagnosticEvent is the payload published on EventDiagnostic.
type DiagnosticEvent struct {
	Component string
	Message   string
	Err       error
}
