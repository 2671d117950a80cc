package transport

import (
	"sync"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
	"github.com/bluetuith-org/transport-core/api/config"
)

// Adapter is the root of the object graph: the local Bluetooth controller
// that owns a set of Devices (spec section 2, 3). The transport core does
// not itself discover or pair devices; it only needs an Adapter identity
// to compose dbus object paths and to pick the HCI device index for SCO
// sockets.
type Adapter struct {
	ID   int    // HCI device index, e.g. 0 for hci0
	Path string // e.g. "/org/bluez/hci0"

	// ESCOSupported reports whether the local controller's HCI feature
	// mask advertises eSCO support. SCO transport construction pins the
	// voice codec to CVSD when this is false, the same way it does for
	// the HSP mask, since mSBC requires an eSCO (not SCO) link (spec
	// section 4.4, supplemented from ba-transport.c's
	// BA_TEST_ESCO_SUPPORT(device->a) check).
	ESCOSupported bool

	mu      sync.Mutex
	devices map[bluetooth.MacAddress]*Device
}

// NewAdapter allocates an Adapter with an empty device set. escoSupported
// should reflect the local controller's actual HCI feature mask.
func NewAdapter(id int, path string, escoSupported bool) *Adapter {
	return &Adapter{
		ID:            id,
		Path:          path,
		ESCOSupported: escoSupported,
		devices:       make(map[bluetooth.MacAddress]*Device),
	}
}

// Device returns the Device for addr, creating it (with cfg as its
// default configuration) if this is the first transport ever seen for
// that address.
func (a *Adapter) Device(addr bluetooth.MacAddress, cfg config.Configuration) *Device {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.devices[addr]
	if ok {
		return d
	}
	d = NewDevice(a, addr, cfg)
	a.devices[addr] = d
	return d
}

// RemoveDevice drops addr from the adapter's device set. Callers must
// ensure the device's transport map is already empty; this only unlinks
// bookkeeping, it does not tear anything down.
func (a *Adapter) RemoveDevice(addr bluetooth.MacAddress) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.devices, addr)
}
