// Package bluetooth holds the small value types shared across the
// transport core and its collaborators: addresses, profile/codec tags, and
// the object-path composition rule of spec section 6.
package bluetooth

import (
	"fmt"
	"strings"
)

// MacAddress is a Bluetooth device address in the conventional colon-hex
// form, e.g. "AA:BB:CC:DD:EE:FF".
type MacAddress string

// String returns the address unchanged.
func (m MacAddress) String() string {
	return string(m)
}

// Path returns the BlueZ-style object path fragment for this address,
// e.g. "dev_AA_BB_CC_DD_EE_FF".
func (m MacAddress) Path() string {
	return "dev_" + strings.ReplaceAll(string(m), ":", "_")
}

// Profile tags a Transport's role, matching spec section 3's tagged pair
// (profile, codec_id).
type Profile int

const (
	ProfileNone Profile = iota
	ProfileA2DPSource
	ProfileA2DPSink
	ProfileHFPHF
	ProfileHFPAG
	ProfileHSPHS
	ProfileHSPAG
)

// String renders the profile the way log lines and dbus path segments need
// it.
func (p Profile) String() string {
	switch p {
	case ProfileA2DPSource:
		return "A2DP-SOURCE"
	case ProfileA2DPSink:
		return "A2DP-SINK"
	case ProfileHFPHF:
		return "HFP-HF"
	case ProfileHFPAG:
		return "HFP-AG"
	case ProfileHSPHS:
		return "HSP-HS"
	case ProfileHSPAG:
		return "HSP-AG"
	default:
		return "NONE"
	}
}

// IsA2DP reports whether the profile belongs to the A2DP mask.
func (p Profile) IsA2DP() bool {
	return p == ProfileA2DPSource || p == ProfileA2DPSink
}

// IsSCO reports whether the profile belongs to the HSP/HFP (SCO) mask.
func (p Profile) IsSCO() bool {
	switch p {
	case ProfileHFPHF, ProfileHFPAG, ProfileHSPHS, ProfileHSPAG:
		return true
	default:
		return false
	}
}

// IsHSP reports whether the profile belongs to the HSP mask (CVSD-only).
func (p Profile) IsHSP() bool {
	return p == ProfileHSPHS || p == ProfileHSPAG
}

// IsAudioGateway reports whether the profile is the AG (source) side of a
// voice link, used by the soft-volume double-attenuation guard of
// spec section 4.7.
func (p Profile) IsAudioGateway() bool {
	return p == ProfileHFPAG || p == ProfileHSPAG
}

// pathTag returns the object-path profile tag of spec section 6. It must
// not be reordered: the mapping is bit-exact and externally visible.
func (p Profile) pathTag() string {
	switch p {
	case ProfileA2DPSource:
		return "a2dpsrc"
	case ProfileA2DPSink:
		return "a2dpsnk"
	case ProfileHFPHF:
		return "hfphf"
	case ProfileHFPAG:
		return "hfpag"
	case ProfileHSPHS:
		return "hsphs"
	case ProfileHSPAG:
		return "hspag"
	default:
		return ""
	}
}

// CodecID identifies an A2DP or HFP codec. A2DP codec ids follow the
// Bluetooth SIG assigned numbers (SBC, MPEG-1/2, MPEG-4 AAC) or the
// vendor-id/vendor-codec-id pair packed into a single value for aptX,
// aptX-HD, LDAC and FastStream; HFP codec ids are the small HFP_CODEC_*
// constants.
type CodecID uint32

const (
	CodecUndefined CodecID = 0

	// A2DP codec ids (Bluetooth SIG assigned numbers).
	A2DPCodecSBC        CodecID = 0x00
	A2DPCodecMPEG12     CodecID = 0x01
	A2DPCodecMPEG24     CodecID = 0x02
	A2DPCodecVendor     CodecID = 0xFF
	A2DPCodecAptX       CodecID = 0x100 | A2DPCodecVendor
	A2DPCodecAptXHD     CodecID = 0x200 | A2DPCodecVendor
	A2DPCodecLDAC       CodecID = 0x300 | A2DPCodecVendor
	A2DPCodecFastStream CodecID = 0x400 | A2DPCodecVendor

	// HFP codec ids.
	HFPCodecUndefined CodecID = 0
	HFPCodecCVSD      CodecID = 1
	HFPCodecMSBC      CodecID = 2
)

// TransportType is the tagged pair of spec section 3's `type` field.
type TransportType struct {
	Profile Profile
	Codec   CodecID
}

func (t TransportType) String() string {
	return fmt.Sprintf("%s (codec %#x)", t.Profile, uint32(t.Codec))
}

// Direction is a PCM endpoint's externally visible direction segment.
type Direction int

const (
	DirectionSource Direction = iota
	DirectionSink
)

func (d Direction) String() string {
	if d == DirectionSource {
		return "source"
	}
	return "sink"
}

// PCMObjectPath composes a PCM endpoint's externally visible path:
// "<device-path>/<profile-tag>/<source|sink>" (spec section 6). This
// mapping is bit-exact and must not be reordered.
func PCMObjectPath(devicePath string, profile Profile, dir Direction) string {
	return fmt.Sprintf("%s/%s/%s", devicePath, profile.pathTag(), dir)
}
