//go:build linux

package hci

import (
	"testing"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
)

func TestParseAddr(t *testing.T) {
	t.Parallel()

	bdaddr, err := parseAddr(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"))
	if err != nil {
		t.Fatalf("parseAddr: %v", err)
	}

	want := [6]byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}
	if bdaddr != want {
		t.Fatalf("parseAddr reversed bytes = %x, want %x", bdaddr, want)
	}
}

func TestParseAddrLowercase(t *testing.T) {
	t.Parallel()

	bdaddr, err := parseAddr(bluetooth.MacAddress("aa:bb:cc:dd:ee:ff"))
	if err != nil {
		t.Fatalf("parseAddr: %v", err)
	}
	want := [6]byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}
	if bdaddr != want {
		t.Fatalf("parseAddr lowercase = %x, want %x", bdaddr, want)
	}
}

func TestParseAddrInvalid(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"AA:BB:CC:DD:EE",       // too short
		"AA:BB:CC:DD:EE:FF:00", // too long
		"ZZ:BB:CC:DD:EE:FF",    // non-hex nibble
	}
	for _, c := range cases {
		if _, err := parseAddr(bluetooth.MacAddress(c)); err == nil {
			t.Errorf("parseAddr(%q) = nil error, want error", c)
		}
	}
}

func TestHexByte(t *testing.T) {
	t.Parallel()

	got, err := hexByte('a', 'F')
	if err != nil {
		t.Fatalf("hexByte: %v", err)
	}
	if got != 0xaF {
		t.Fatalf("hexByte('a','F') = %#x, want 0xaf", got)
	}
}
