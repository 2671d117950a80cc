package transport

import "github.com/bluetuith-org/transport-core/api/bluetooth"

// codecFormat describes the PCM parameters a successfully negotiated
// codec configuration implies: the sample format and whether the codec
// carries a back channel (supplemented
// from ba_transport_set_codec_a2dp, which derives these straight out of
// the codec's a2dp_t configuration blob; spec.md leaves the wire format
// of that blob out of scope, so this table only carries the
// already-decoded (channels, sampling) pair a caller passes in).
type codecFormat struct {
	format   SampleFormat
	hasBC    bool // codec configuration carries a usable back channel
}

// formatFor returns the PCM sample format a codec widens to. Every codec
// defaults to 16-bit signed little endian except the two whose dynamic
// range the format would otherwise truncate.
func formatFor(codec bluetooth.CodecID) SampleFormat {
	switch codec {
	case bluetooth.A2DPCodecAptXHD:
		return FormatS24_4LE
	case bluetooth.A2DPCodecLDAC:
		return FormatS32LE
	default:
		return FormatS16LE
	}
}

var codecFormats = map[bluetooth.CodecID]codecFormat{
	bluetooth.A2DPCodecSBC:        {format: FormatS16LE},
	bluetooth.A2DPCodecMPEG12:     {format: FormatS16LE},
	bluetooth.A2DPCodecMPEG24:     {format: FormatS16LE},
	bluetooth.A2DPCodecAptX:       {format: FormatS16LE},
	bluetooth.A2DPCodecAptXHD:     {format: FormatS24_4LE},
	bluetooth.A2DPCodecLDAC:       {format: FormatS32LE},
	bluetooth.A2DPCodecFastStream: {format: FormatS16LE, hasBC: true},
}

// ApplyCodecFormat sets a transport's forward PCM format/channel/sampling
// triple from its negotiated codec, and — for FastStream, the one codec
// with independent music and voice rates — configures the back channel
// with its own (typically mono, 8kHz) parameters instead of mirroring the
// forward channel (spec section 4.6, supplemented from
// ba_transport_set_codec_a2dp / FastStream's dual-rate configuration).
func ApplyCodecFormat(t *Transport, channels, sampling int) {
	codec := t.Type().Codec
	cf, ok := codecFormats[codec]
	if !ok {
		cf = codecFormat{format: formatFor(codec)}
	}

	t.a2dp.pcm.mu.Lock()
	t.a2dp.pcm.Format = cf.format
	t.a2dp.pcm.Channels = channels
	t.a2dp.pcm.Sampling = sampling
	t.a2dp.pcm.mu.Unlock()

	t.a2dp.pcmBC.mu.Lock()
	if cf.hasBC {
		t.a2dp.pcmBC.Format = FormatS16LE
		t.a2dp.pcmBC.Channels = 1
		t.a2dp.pcmBC.Sampling = 8000
	} else {
		t.a2dp.pcmBC.Channels = 0
		t.a2dp.pcmBC.Sampling = 0
	}
	t.a2dp.pcmBC.mu.Unlock()
}

// ApplyVoiceFormat sets the fixed SCO PCM parameters for the transport's
// current HFP codec: CVSD is always 8kHz mono, mSBC is always 16kHz mono.
func ApplyVoiceFormat(t *Transport) {
	sampling := 8000
	if t.Type().Codec == bluetooth.HFPCodecMSBC {
		sampling = 16000
	}

	for _, p := range []*PCM{t.sco.spkPCM, t.sco.micPCM} {
		p.mu.Lock()
		p.Format = FormatS16LE
		p.Channels = 1
		p.Sampling = sampling
		p.mu.Unlock()
	}
}
