package transport

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bluetuith-org/transport-core/api/bluetooth"
	"github.com/bluetuith-org/transport-core/api/config"
	"github.com/bluetuith-org/transport-core/api/errorkinds"
)

type fakeMediator struct {
	mu           sync.Mutex
	acquireFd    int
	releaseCalls int
	volumeCalls  []uint16
}

func newFakeMediator(fd int) *fakeMediator {
	return &fakeMediator{acquireFd: fd}
}

func (f *fakeMediator) Acquire(ctx context.Context, owner, path string) (AcquireReply, error) {
	return AcquireReply{Fd: f.acquireFd, MTURead: 672, MTUWrite: 672}, nil
}

func (f *fakeMediator) TryAcquire(ctx context.Context, owner, path string) (AcquireReply, error) {
	return f.Acquire(ctx, owner, path)
}

func (f *fakeMediator) Release(ctx context.Context, owner, path string) error {
	f.mu.Lock()
	f.releaseCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeMediator) SetConfiguration(ctx context.Context, sepPath string, sep SEPConfiguration) error {
	return nil
}

func (f *fakeMediator) SetVolume(ctx context.Context, owner, path string, value uint16) error {
	f.mu.Lock()
	f.volumeCalls = append(f.volumeCalls, value)
	f.mu.Unlock()
	return nil
}

type fakeRegistrar struct {
	mu        sync.Mutex
	registered map[string]int
	updates   []bluetooth.UpdateMask
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: make(map[string]int)}
}

func (r *fakeRegistrar) Register(path string, channels int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[path] = channels
}

func (r *fakeRegistrar) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, path)
}

func (r *fakeRegistrar) Update(path string, mask bluetooth.UpdateMask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, mask)
}

type fakeHCI struct {
	fd int
}

func (f *fakeHCI) SCOOpen(devID int) (int, error)      { return f.fd, nil }
func (f *fakeHCI) SCOConnect(fd int, addr bluetooth.MacAddress, v VoiceSetting) error { return nil }
func (f *fakeHCI) SCOMTU(fd int) (uint16, error)       { return 48, nil }

type fakeRFCOMM struct {
	mu       sync.Mutex
	sent     []RFCOMMSignal
	awaitErr error
}

func (f *fakeRFCOMM) SendSignal(sig RFCOMMSignal) error {
	f.mu.Lock()
	f.sent = append(f.sent, sig)
	f.mu.Unlock()
	return nil
}

func (f *fakeRFCOMM) AwaitCodecSelection(ctx context.Context) error {
	return f.awaitErr
}

func (f *fakeRFCOMM) Destroy() {}

// pipeFd returns one end of an OS pipe as a plain fd, standing in for a
// socket descriptor without needing a real Bluetooth stack.
func pipeFd(t *testing.T) int {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return int(r.Fd())
}

func testConfig() config.Configuration {
	cfg := config.New()
	cfg.DrainPostSleep = time.Millisecond
	cfg.CodecSwitchTimeout = 50 * time.Millisecond
	return cfg
}

func TestTransportRefCountingSteal(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())
	mediatorFake := newFakeMediator(pipeFd(t))
	reg := newFakeRegistrar()

	tr := NewA2DP(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd0", "/sep0",
		bluetooth.ProfileA2DPSink, bluetooth.A2DPCodecSBC, mediatorFake, reg, testConfig())

	looked := d.Lookup(tr.DBusPath)
	if looked == nil {
		t.Fatal("Lookup returned nil for a live transport")
	}

	// Two references outstanding (construction + Lookup): unref once must
	// not tear the transport down or remove it from the registry.
	tr.unref()
	if d.Lookup(tr.DBusPath) == nil {
		t.Fatal("transport removed from registry before its last unref")
	}
	looked.unref() // undo the ref Lookup just took, back to one reference

	// Drop the one remaining reference; this is the steal-before-free
	// transition. A redundant extra unref must be a no-op rather than a
	// double free.
	looked.unref()
	looked.unref()

	if got := d.Lookup(tr.DBusPath); got != nil {
		t.Error("transport still present in registry after ref count reached zero")
	}
}

func TestTransportDestroyOrdering(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())
	mediatorFake := newFakeMediator(pipeFd(t))
	reg := newFakeRegistrar()

	tr := NewA2DP(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd0", "/sep0",
		bluetooth.ProfileA2DPSink, bluetooth.A2DPCodecSBC, mediatorFake, reg, testConfig())

	ApplyCodecFormat(tr, 2, 44100)
	tr.insertAndNotify() // re-register now that channels > 0

	if _, ok := reg.registered[tr.a2dp.pcm.DBusPath()]; !ok {
		t.Fatal("forward PCM was not registered")
	}

	if err := tr.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tr.State() != StateActive {
		t.Fatalf("state after Acquire = %v, want active", tr.State())
	}

	tr.Destroy()

	if _, ok := reg.registered[tr.a2dp.pcm.DBusPath()]; ok {
		t.Error("PCM still registered after Destroy")
	}
	if d.Lookup(tr.DBusPath) != nil {
		t.Error("transport still reachable from its device after Destroy")
	}
	if tr.State() != StateIdle {
		t.Errorf("state after Destroy = %v, want idle", tr.State())
	}
	if mediatorFake.releaseCalls == 0 {
		t.Error("expected mediator.Release to be called while tearing down an acquired transport")
	}
}

func TestSetStatePendingAcquiresOnlyForSink(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())

	sinkMediator := newFakeMediator(pipeFd(t))
	sink := NewA2DP(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd_sink", "/sep0",
		bluetooth.ProfileA2DPSink, bluetooth.A2DPCodecSBC, sinkMediator, newFakeRegistrar(), testConfig())

	if err := sink.SetState(context.Background(), StatePending); err != nil {
		t.Fatalf("SetState(Pending) on sink = %v", err)
	}
	if sink.State() != StateActive {
		t.Errorf("sink state after SetState(Pending) = %v, want active (acquire ran)", sink.State())
	}

	sourceMediator := newFakeMediator(pipeFd(t))
	source := NewA2DP(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd_source", "/sep0",
		bluetooth.ProfileA2DPSource, bluetooth.A2DPCodecSBC, sourceMediator, newFakeRegistrar(), testConfig())

	if err := source.SetState(context.Background(), StatePending); err != nil {
		t.Fatalf("SetState(Pending) on source = %v", err)
	}
	if source.State() != StatePending {
		t.Errorf("source state after SetState(Pending) = %v, want pending (acquire deferred)", source.State())
	}
	if source.Fd() != -1 {
		t.Error("source acquired a socket on SetState(Pending), acquisition should be deferred to PCM open")
	}
}

func TestSetStateActiveStartsWorkers(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())
	mediatorFake := newFakeMediator(pipeFd(t))
	reg := newFakeRegistrar()

	tr := NewA2DP(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd0", "/sep0",
		bluetooth.ProfileA2DPSink, bluetooth.A2DPCodecSBC, mediatorFake, reg, testConfig())

	started := make(chan struct{})
	tr.SetCodecIO(CodecIO{Encoder: func(ctx context.Context, th *ThreadHandle) error {
		th.Ready()
		close(started)
		<-ctx.Done()
		return nil
	}})

	if err := tr.SetState(context.Background(), StateActive); err != nil {
		t.Fatalf("SetState(Active): %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker never started after SetState(Active)")
	}
	if !tr.threadEnc.Running() {
		t.Error("threadEnc not running after SetState(Active)")
	}

	if err := tr.SetState(context.Background(), StateIdle); err != nil {
		t.Fatalf("SetState(Idle): %v", err)
	}
	if tr.threadEnc.Running() {
		t.Error("threadEnc still running after SetState(Idle)")
	}
	if tr.State() != StateIdle {
		t.Errorf("state after SetState(Idle) = %v, want idle", tr.State())
	}
}

func TestThreadHandleLifecycle(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())
	mediatorFake := newFakeMediator(pipeFd(t))
	reg := newFakeRegistrar()

	tr := NewA2DP(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd0", "/sep0",
		bluetooth.ProfileA2DPSink, bluetooth.A2DPCodecSBC, mediatorFake, reg, testConfig())

	started := make(chan struct{})
	stop := make(chan struct{})
	err := tr.StartWorkers(CodecIO{Encoder: func(ctx context.Context, th *ThreadHandle) error {
		th.Ready()
		close(started)
		select {
		case <-ctx.Done():
		case <-stop:
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker never signaled ready")
	}

	if !tr.threadEnc.Running() {
		t.Error("Running() == false after Ready")
	}

	tr.threadEnc.Cancel()
	if tr.threadEnc.Running() {
		t.Error("Running() == true after Cancel returned")
	}
}

func TestPCMDrainRequiresRunningThread(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())
	mediatorFake := newFakeMediator(pipeFd(t))
	reg := newFakeRegistrar()

	tr := NewA2DP(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd0", "/sep0",
		bluetooth.ProfileA2DPSink, bluetooth.A2DPCodecSBC, mediatorFake, reg, testConfig())

	if err := tr.a2dp.pcm.Drain(); !errors.Is(err, errorkinds.ErrNoThread) {
		t.Fatalf("Drain with no worker = %v, want ErrNoThread", err)
	}
}

func TestPCMDrainRendezvous(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())
	mediatorFake := newFakeMediator(pipeFd(t))
	reg := newFakeRegistrar()

	tr := NewA2DP(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd0", "/sep0",
		bluetooth.ProfileA2DPSink, bluetooth.A2DPCodecSBC, mediatorFake, reg, testConfig())

	p := tr.a2dp.pcm
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			select {
			case sig := <-p.th.Signals():
				if sig == SignalPCMSync {
					p.SignalSynced()
				}
			case <-stop:
				return
			}
		}
	}()
	p.th.Ready()

	if err := p.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestSCOCodecSwitchHandshake(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())
	mediatorFake := newFakeMediator(0)
	reg := newFakeRegistrar()
	scoHCI := &fakeHCI{fd: pipeFd(t)}

	tr := NewSCO(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd0", bluetooth.ProfileHFPHF,
		bluetooth.HFPCodecCVSD, bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), 0, scoHCI, mediatorFake, reg, testConfig())

	rf := &fakeRFCOMM{}
	tr.AttachRFCOMM(rf)

	if err := tr.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := tr.SelectCodec(context.Background(), bluetooth.HFPCodecMSBC, nil); err != nil {
		t.Fatalf("SelectCodec: %v", err)
	}
	if tr.Type().Codec != bluetooth.HFPCodecMSBC {
		t.Errorf("codec after switch = %#x, want mSBC", uint32(tr.Type().Codec))
	}
	if len(rf.sent) != 1 || rf.sent[0] != RFCOMMSetCodecMSBC {
		t.Errorf("rfcomm signals sent = %v, want [RFCOMMSetCodecMSBC]", rf.sent)
	}
}

func TestSCOCodecSwitchTimeout(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())
	mediatorFake := newFakeMediator(0)
	reg := newFakeRegistrar()
	scoHCI := &fakeHCI{fd: pipeFd(t)}

	tr := NewSCO(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd0", bluetooth.ProfileHFPHF,
		bluetooth.HFPCodecCVSD, bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), 0, scoHCI, mediatorFake, reg, testConfig())

	rf := &fakeRFCOMM{awaitErr: context.DeadlineExceeded}
	tr.AttachRFCOMM(rf)

	if err := tr.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := tr.SelectCodec(context.Background(), bluetooth.HFPCodecMSBC, nil); err == nil {
		t.Fatal("expected SelectCodec to fail when the RFCOMM rendezvous errors")
	}
	if tr.Type().Codec != bluetooth.HFPCodecCVSD {
		t.Errorf("codec changed despite failed handshake: %#x", uint32(tr.Type().Codec))
	}
}

func TestSCOCodecSwitchRejectedForHSP(t *testing.T) {
	t.Parallel()

	a := NewAdapter(0, "/org/bluez/hci0", true)
	d := a.Device(bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), testConfig())
	mediatorFake := newFakeMediator(0)
	reg := newFakeRegistrar()
	scoHCI := &fakeHCI{fd: pipeFd(t)}

	tr := NewSCO(d, ":1.1", "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/fd0", bluetooth.ProfileHSPHS,
		bluetooth.HFPCodecMSBC, bluetooth.MacAddress("AA:BB:CC:DD:EE:FF"), 0, scoHCI, mediatorFake, reg, testConfig())

	if tr.Type().Codec != bluetooth.HFPCodecCVSD {
		t.Fatalf("HSP transport constructed with codec %#x, want CVSD pinned", uint32(tr.Type().Codec))
	}

	rf := &fakeRFCOMM{}
	tr.AttachRFCOMM(rf)
	if err := tr.SelectCodec(context.Background(), bluetooth.HFPCodecMSBC, nil); !errors.Is(err, errorkinds.ErrNotSupported) {
		t.Fatalf("SelectCodec on HSP = %v, want ErrNotSupported", err)
	}
}
