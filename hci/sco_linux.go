//go:build linux

// Package hci implements the transport package's HCI collaborator: opening
// and connecting a raw kernel SCO socket for voice links (spec section 6,
// 4.4). It talks to AF_BLUETOOTH directly the way
// currantlabs/ble's vendored HCI user-channel socket does, since
// golang.org/x/sys/unix has no high-level SCO sockaddr type of its own.
package hci

import (
	"unsafe"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
	"github.com/bluetuith-org/transport-core/transport"
	"golang.org/x/sys/unix"
)

const (
	scoOptions  = 0x01 // SCO_OPTIONS
	btVoice     = 0x0b // BT_VOICE, level SOL_BLUETOOTH
	voiceCVSD16 = 0x0060
	voiceTransp = 0x0003
)

// sockaddrSCO mirrors struct sockaddr_sco from <bluetooth/sco.h>: a
// sa_family_t followed by a 6-byte bdaddr_t, both little-endian on every
// architecture Linux BT runs on.
type sockaddrSCO struct {
	family uint16
	bdaddr [6]byte
}

type scoOptionsStruct struct {
	mtu uint16
}

type btVoiceStruct struct {
	setting uint16
}

// Adapter is the concrete transport.HCI implementation for Linux.
type Adapter struct{}

// New returns the Linux SCO socket adapter.
func New() *Adapter { return &Adapter{} }

// SCOOpen implements transport.HCI. devID is currently unused: Linux binds
// SCO sockets by destination address at connect time, not by local
// adapter index, but the parameter is kept so a future multi-adapter
// implementation can route through a specific controller.
func (Adapter) SCOOpen(devID int) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_SCO)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

func parseAddr(addr bluetooth.MacAddress) ([6]byte, error) {
	var out [6]byte
	s := string(addr)
	// "AA:BB:CC:DD:EE:FF" -> bdaddr_t is stored little-endian (reversed).
	parts := [6]byte{}
	n, err := parseHexPairs(s, &parts)
	if err != nil || n != 6 {
		return out, unix.EINVAL
	}
	for i := 0; i < 6; i++ {
		out[i] = parts[5-i]
	}
	return out, nil
}

func parseHexPairs(s string, out *[6]byte) (int, error) {
	n := 0
	i := 0
	for i < len(s) && n < 6 {
		if s[i] == ':' {
			i++
			continue
		}
		if i+2 > len(s) {
			return n, unix.EINVAL
		}
		v, err := hexByte(s[i], s[i+1])
		if err != nil {
			return n, err
		}
		out[n] = v
		n++
		i += 2
	}
	if i < len(s) {
		return n, unix.EINVAL
	}
	return n, nil
}

func hexByte(hi, lo byte) (byte, error) {
	h, err := hexNibble(hi)
	if err != nil {
		return 0, err
	}
	l, err := hexNibble(lo)
	if err != nil {
		return 0, err
	}
	return h<<4 | l, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, unix.EINVAL
	}
}

// SCOConnect implements transport.HCI: it sets BT_VOICE before connecting,
// matching the kernel's requirement that voice settings be fixed before
// the SCO handshake completes.
func (Adapter) SCOConnect(fd int, addr bluetooth.MacAddress, voice transport.VoiceSetting) error {
	setting := uint16(voiceCVSD16)
	if voice == transport.VoiceTransparent {
		setting = voiceTransp
	}
	bvs := btVoiceStruct{setting: setting}
	if _, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd),
		uintptr(unix.SOL_BLUETOOTH), uintptr(btVoice),
		uintptr(unsafe.Pointer(&bvs)), unsafe.Sizeof(bvs), 0); errno != 0 {
		return errno
	}

	bdaddr, err := parseAddr(addr)
	if err != nil {
		return err
	}
	sa := sockaddrSCO{family: unix.AF_BLUETOOTH, bdaddr: bdaddr}
	if _, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd),
		uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa)); errno != 0 {
		return errno
	}
	return nil
}

// SCOMTU implements transport.HCI by reading SCO_OPTIONS off the
// connected socket.
func (Adapter) SCOMTU(fd int) (uint16, error) {
	var opts scoOptionsStruct
	size := uint32(unsafe.Sizeof(opts))
	if _, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd),
		uintptr(unix.SOL_SCO), uintptr(scoOptions),
		uintptr(unsafe.Pointer(&opts)), uintptr(unsafe.Pointer(&size)), 0); errno != 0 {
		return 0, errno
	}
	return opts.mtu, nil
}
