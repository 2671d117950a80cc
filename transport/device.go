package transport

import (
	"sync"
	"sync/atomic"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
	"github.com/bluetuith-org/transport-core/api/config"
)

// Device owns every Transport that currently exists for one remote
// Bluetooth address (spec section 3). Its transports_mutex is the
// outermost lock in the hierarchy (spec section 5): nothing else may be
// held when a caller attempts to acquire it.
type Device struct {
	Adapter *Adapter
	Address bluetooth.MacAddress

	transportsMu sync.Mutex
	transports   map[string]*Transport // keyed by mediator object path

	cfg config.Configuration
}

// NewDevice allocates a Device under the given adapter.
func NewDevice(a *Adapter, addr bluetooth.MacAddress, cfg config.Configuration) *Device {
	return &Device{
		Adapter:    a,
		Address:    addr,
		transports: make(map[string]*Transport),
		cfg:        cfg,
	}
}

// Lookup returns the transport registered at path, taking a reference on
// it before releasing transports_mutex so a concurrent Destroy cannot
// free it out from under the caller (spec section 3, 5: "steal-before-free").
func (d *Device) Lookup(path string) *Transport {
	d.transportsMu.Lock()
	defer d.transportsMu.Unlock()

	t, ok := d.transports[path]
	if !ok {
		return nil
	}
	t.refLocked()
	return t
}

// insert registers t under its dbus path. Called once, by the
// constructor that built t, before t is reachable from any other
// goroutine.
func (d *Device) insert(t *Transport) {
	d.transportsMu.Lock()
	defer d.transportsMu.Unlock()
	d.transports[t.DBusPath] = t
}

// dropRef decrements t's reference count and, if it reaches zero, deletes
// t from the registry in the same critical section, reporting whether it
// did. The decrement and the delete must not be separate critical
// sections: otherwise a concurrent Lookup could observe t still in the
// map and take a fresh reference in the window between an unlocked
// decrement-to-zero and the delete, handing out a reference to a
// transport that is about to be freed (spec section 4.2, 5's
// steal-before-free protocol, matching ba_transport_unref's decrement
// and g_hash_table_steal under the same transports_mutex critical
// section).
func (d *Device) dropRef(t *Transport) bool {
	d.transportsMu.Lock()
	defer d.transportsMu.Unlock()

	if atomic.AddInt32(&t.refCount, -1) > 0 {
		return false
	}
	delete(d.transports, t.DBusPath)
	return true
}

// Transports returns a snapshot slice of every currently registered
// transport, each with an additional reference taken on behalf of the
// caller. Callers must Unref each entry when done.
func (d *Device) Transports() []*Transport {
	d.transportsMu.Lock()
	defer d.transportsMu.Unlock()

	out := make([]*Transport, 0, len(d.transports))
	for _, t := range d.transports {
		t.refLocked()
		out = append(out, t)
	}
	return out
}
