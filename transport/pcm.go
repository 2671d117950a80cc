package transport

import (
	"sync"
	"time"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
	"github.com/bluetuith-org/transport-core/api/errorkinds"
)

// SampleFormat is the PCM sample encoding negotiated from the codec
// configuration (spec section 4.6).
type SampleFormat int

const (
	FormatS16LE SampleFormat = iota
	FormatS24_4LE
	FormatS32LE
)

// ChannelVolume is one channel's level/mute state (spec section 3).
type ChannelVolume struct {
	// Level is in signed centibels, clamped to [-9600, +9600].
	Level int
	Muted bool
}

const (
	MinVolumeLevel = -9600
	MaxVolumeLevel = 9600
)

// ClampLevel clamps a centibel level to the documented range.
func ClampLevel(level int) int {
	if level < MinVolumeLevel {
		return MinVolumeLevel
	}
	if level > MaxVolumeLevel {
		return MaxVolumeLevel
	}
	return level
}

// PCM is one direction of sample flow between the daemon and a local
// client (spec section 3).
type PCM struct {
	t  *Transport
	th *ThreadHandle

	Mode bluetooth.Direction

	mu sync.Mutex
	fd int // -1 when released

	Format   SampleFormat
	Channels int
	Sampling int

	Volume      [2]ChannelVolume
	SoftVolume  bool
	MaxBtVolume int
	Delay       int // additional per-endpoint latency, in centibels

	syncedMu sync.Mutex
	synced   *sync.Cond
	syncedAt uint64 // monotonically bumped each time synced fires

	dbusPath string
}

func newPCM(t *Transport, th *ThreadHandle, mode bluetooth.Direction, maxBtVolume int) *PCM {
	p := &PCM{
		t:           t,
		th:          th,
		Mode:        mode,
		fd:          -1,
		Format:      FormatS16LE,
		MaxBtVolume: maxBtVolume,
		dbusPath:    bluetooth.PCMObjectPath(t.DBusPath, t.Type().Profile, mode),
	}
	p.synced = sync.NewCond(&p.syncedMu)
	return p
}

// DBusPath returns the PCM's externally visible object path.
func (p *PCM) DBusPath() string { return p.dbusPath }

// Registered reports whether the PCM should be exposed on the external
// client surface (spec invariant 6: channels == 0 are not registered).
func (p *PCM) Registered() bool { return p.Channels > 0 }

// Fd returns the client stream descriptor, or -1 if released.
func (p *PCM) Fd() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fd
}

// SetFd installs a new client stream descriptor, replacing whatever was
// open (the caller is responsible for closing any previous descriptor
// through Release first if it must be closed, not just replaced).
func (p *PCM) SetFd(fd int) {
	p.mu.Lock()
	p.fd = fd
	p.mu.Unlock()
}

// Release closes the PCM descriptor (spec section 4.1, invariant 4),
// taking the PCM's own mutex. Callers that already hold it through
// pcmsLock must use releaseLocked instead.
func (p *PCM) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked()
}

// releaseLocked is Release's body for callers that already hold p.mu,
// matching the debug-assert the original makes against its own mutex
// (spec section 5).
func (p *PCM) releaseLocked() error {
	if p.fd == -1 {
		return nil
	}
	err := closeFd(p.fd)
	p.fd = -1
	return err
}

// TotalDelay returns the total presentation delay this PCM contributes: its own
// Delay field plus the profile's base delay (spec section 3's delay field
// composed per ba_transport_pcm_get_delay, supplemented in SPEC_FULL.md).
func (p *PCM) TotalDelay() int {
	switch {
	case p.t.Type().Profile.IsA2DP():
		return p.t.a2dp.delay + p.Delay
	case p.t.Type().Profile.IsSCO():
		return p.Delay + 10
	default:
		return p.Delay
	}
}

// Pause enqueues PCM_PAUSE on the thread driving this PCM.
func (p *PCM) Pause() error {
	p.th.SendSignal(SignalPCMPause)
	return nil
}

// Resume enqueues PCM_RESUME on the thread driving this PCM.
func (p *PCM) Resume() error {
	p.th.SendSignal(SignalPCMResume)
	return nil
}

// Drop enqueues PCM_DROP on the encoder thread regardless of which thread
// drives this PCM: the encoder owns outbound buffer flushes (spec
// section 4.6).
func (p *PCM) Drop() error {
	p.t.threadEnc.SendSignal(SignalPCMDrop)
	return nil
}

// Drain blocks the caller until the worker signals a completed PCM_SYNC,
// then sleeps the configured post-drain duration to let the remote output
// buffer finish draining (spec section 4.6, 9 open question (a)).
func (p *PCM) Drain() error {
	if !p.th.Running() {
		return errorkinds.ErrNoThread
	}

	p.syncedMu.Lock()
	target := p.syncedAt + 1
	p.th.SendSignal(SignalPCMSync)
	for p.syncedAt < target {
		p.synced.Wait()
	}
	p.syncedMu.Unlock()

	time.Sleep(p.t.cfg.DrainPostSleep)
	return nil
}

// SignalSynced is called by the worker routine when a requested drain has
// completed; it wakes any caller blocked in Drain.
func (p *PCM) SignalSynced() {
	p.syncedMu.Lock()
	p.syncedAt++
	p.syncedMu.Unlock()
	p.synced.Broadcast()
}

// pcmsLock acquires both of a transport's PCM mutexes in the canonical
// order: forward before back-channel for A2DP, speaker before microphone
// for SCO (spec section 4.6, 5). It is the only sanctioned entry point
// that grabs both.
func (t *Transport) pcmsLock() error {
	switch {
	case t.Type().Profile.IsA2DP():
		t.a2dp.pcm.mu.Lock()
		t.a2dp.pcmBC.mu.Lock()
		return nil
	case t.Type().Profile.IsSCO():
		t.sco.spkPCM.mu.Lock()
		t.sco.micPCM.mu.Lock()
		return nil
	default:
		return errorkinds.ErrInvalidArg
	}
}

func (t *Transport) pcmsUnlock() error {
	switch {
	case t.Type().Profile.IsA2DP():
		t.a2dp.pcmBC.mu.Unlock()
		t.a2dp.pcm.mu.Unlock()
		return nil
	case t.Type().Profile.IsSCO():
		t.sco.micPCM.mu.Unlock()
		t.sco.spkPCM.mu.Unlock()
		return nil
	default:
		return errorkinds.ErrInvalidArg
	}
}
