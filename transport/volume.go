package transport

import (
	"context"
	"math"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
)

// BTToLevel converts a Bluetooth-scale volume (0..max) to a centibel
// level in [-9600, 0], using a logarithmic loudness curve so that a
// change near max_bt_volume feels the same size as a change near zero
// (spec section 3, 8's round-trip tolerance property). bt == 0 always
// maps to the floor, matching "silence has no finite dB value".
func BTToLevel(bt, max int) int {
	if max <= 0 {
		return MinVolumeLevel
	}
	if bt <= 0 {
		return MinVolumeLevel
	}
	if bt >= max {
		return 0
	}
	level := 2000 * math.Log10(float64(bt)/float64(max))
	return ClampLevel(int(math.Round(level)))
}

// LevelToBT is BTToLevel's inverse.
func LevelToBT(level, max int) int {
	if max <= 0 {
		return 0
	}
	level = ClampLevel(level)
	if level <= MinVolumeLevel {
		return 0
	}
	if level >= 0 {
		return max
	}
	bt := float64(max) * math.Pow(10, float64(level)/2000)
	rounded := int(math.Round(bt))
	if rounded < 0 {
		rounded = 0
	}
	if rounded > max {
		rounded = max
	}
	return rounded
}

// UpdateVolume applies a new channel-volume pair to a PCM and propagates
// it to the mediator and/or RFCOMM session as the profile requires (spec
// section 4.7): propagation is skipped only when the PCM has software
// volume control enabled AND the role is source-side (Audio-Gateway
// HFP-AG/HSP-AG, or A2DP source's forward PCM) — in that combination the
// far end is already the volume authority and pushing the locally
// applied value back out would double the attenuation on the round trip.
// A source-side PCM with hardware volume control, or a sink-side PCM with
// software volume control, both still propagate: everything else calls
// the mediator's Volume property (A2DP, averaging both channels unless
// either is muted) or enqueues an UPDATE_VOLUME RFCOMM signal (SCO/HFP,
// whose volume is carried in-band over AT commands, not a dbus property).
//
// The PCM registrar and event bus are always notified, regardless of
// whether the value was propagated upstream.
func (t *Transport) UpdateVolume(ctx context.Context, p *PCM, ch0, ch1 ChannelVolume) {
	p.mu.Lock()
	p.Volume[0] = ch0
	p.Volume[1] = ch1
	softVolume := p.SoftVolume
	maxBt := p.MaxBtVolume
	p.mu.Unlock()

	sourceSideRole := t.Type().Profile.IsAudioGateway() ||
		(t.Type().Profile == bluetooth.ProfileA2DPSource && p.Mode == bluetooth.DirectionSink)
	skipRemote := softVolume && sourceSideRole

	if !skipRemote {
		switch {
		case t.Type().Profile.IsA2DP():
			value := averageVolumeBT(ch0, ch1, maxBt)
			if err := t.mediator.SetVolume(ctx, t.DBusOwner, t.DBusPath, uint16(value)); err != nil {
				t.diagnostic("volume", "mediator SetVolume failed", err)
			}
		case t.Type().Profile.IsSCO():
			if t.sco.rfcomm != nil {
				if err := t.sco.rfcomm.SendSignal(RFCOMMUpdateVolume); err != nil {
					t.diagnostic("volume", "rfcomm UPDATE_VOLUME failed", err)
				}
			}
		}
	}

	t.notify(p, bluetooth.UpdateVolume)
}

// averageVolumeBT reduces a stereo channel-volume pair to the single
// Bluetooth-scale value the mediator's Volume property carries: muting
// either channel takes priority over averaging, since a muted channel's
// level is not meaningful on its own.
func averageVolumeBT(ch0, ch1 ChannelVolume, max int) int {
	if ch0.Muted || ch1.Muted {
		return 0
	}
	avg := (ch0.Level + ch1.Level) / 2
	return LevelToBT(avg, max)
}
