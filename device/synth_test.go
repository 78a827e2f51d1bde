package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/g2link/device"
	"github.com/ardnew/g2link/frame"
	"github.com/ardnew/g2link/patch"
	"github.com/ardnew/g2link/pkg"
	"github.com/ardnew/g2link/protocol"
	"github.com/ardnew/g2link/transport"
	"github.com/ardnew/g2link/transport/pipe"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setup(t *testing.T, cfg protocol.Config, opts ...device.Option) (*device.Synth, *protocol.Session, *pipe.End) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	host, end := pipe.New()
	s := device.New(end, opts...)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := host.Open(ctx, transport.DefaultConfig()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	session := protocol.NewSession(host, cfg)
	go session.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-session.Done()
		host.Close()
		s.Stop()
	})
	return s, session, end
}

func do(t *testing.T, s *protocol.Session, ch protocol.Channel, op protocol.Op, body []byte) (protocol.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Do(ctx, protocol.Request{Channel: ch, Op: op, Body: body})
}

func mustDo(t *testing.T, s *protocol.Session, ch protocol.Channel, op protocol.Op, body []byte) protocol.Response {
	t.Helper()
	resp, err := do(t, s, ch, op, body)
	if err != nil {
		t.Fatalf("%s failed: %v", s.Table().Name(op), err)
	}
	return resp
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func simplePatch(t *testing.T) *patch.Patch {
	t.Helper()
	cat := patch.DefaultCatalog()
	p := patch.New()
	p.Name = "Bass"
	osc := must(p.InsertModule(cat, patch.TypeOscB))
	out := must(p.InsertModule(cat, patch.Type2Out))
	if err := p.Connect(patch.Cable{
		From:  patch.PortRef{Module: osc.ID, Index: 0, Dir: patch.Out},
		To:    patch.PortRef{Module: out.ID, Index: 0, Dir: patch.In},
		Color: patch.Red,
	}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return p
}

// =============================================================================
// Upload Tests
// =============================================================================

func TestSynth_Upload(t *testing.T) {
	synth, s, _ := setup(t, protocol.DefaultConfig())
	p := simplePatch(t)
	ch := protocol.SlotD

	mustDo(t, s, ch, protocol.OpBeginUpload, must(protocol.EncodeBeginUpload(2, p.Name)))
	for _, m := range p.Modules() {
		mustDo(t, s, ch, protocol.OpAddModule, must(protocol.EncodeAddModule(m)))
	}
	for _, c := range p.Cables() {
		mustDo(t, s, ch, protocol.OpAddCable, protocol.EncodeCable(c))
	}
	resp := mustDo(t, s, ch, protocol.OpEndUpload, nil)
	if len(resp.Body) != 1 || resp.Body[0] != 1 {
		t.Errorf("end upload body = %v, want [1]", resp.Body)
	}

	got := synth.Patch(patch.SlotD)
	p.Slot = patch.SlotD
	p.Variation = 2
	if !got.Equal(p) {
		t.Errorf("device patch differs from upload")
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}

	info := must(protocol.DecodePatchInfo(mustDo(t, s, ch, protocol.OpPatchInfo, nil).Body))
	if info.Name != "Bass" || info.Version != 1 || info.Variation != 2 {
		t.Errorf("PatchInfo = %+v", info)
	}
}

func TestSynth_UploadErrors(t *testing.T) {
	cat := patch.DefaultCatalog()
	osc := must(cat.NewModule(1, patch.TypeOscB))
	dangling := protocol.EncodeCable(patch.Cable{
		From: patch.PortRef{Module: 1, Index: 0, Dir: patch.Out},
		To:   patch.PortRef{Module: 9, Index: 0, Dir: patch.In},
	})
	badPort := protocol.EncodeCable(patch.Cable{
		From: patch.PortRef{Module: 1, Index: 7, Dir: patch.Out},
		To:   patch.PortRef{Module: 1, Index: 0, Dir: patch.In},
	})

	tests := []struct {
		name   string
		begin  bool
		op     protocol.Op
		body   []byte
		status pkg.Status
	}{
		{"module without begin", false, protocol.OpAddModule, must(protocol.EncodeAddModule(osc)), pkg.StatusBusy},
		{"end without begin", false, protocol.OpEndUpload, nil, pkg.StatusBusy},
		{"unknown module", true, protocol.OpAddCable, dangling, pkg.StatusNoModule},
		{"unknown port", true, protocol.OpAddCable, badPort, pkg.StatusNoPort},
		{"truncated module", true, protocol.OpAddModule, []byte{1}, pkg.StatusBadArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, s, _ := setup(t, protocol.DefaultConfig())
			ch := protocol.SlotA
			if tt.begin {
				mustDo(t, s, ch, protocol.OpBeginUpload, must(protocol.EncodeBeginUpload(0, "x")))
				mustDo(t, s, ch, protocol.OpAddModule, must(protocol.EncodeAddModule(osc)))
			}
			resp, err := do(t, s, ch, tt.op, tt.body)
			if !errors.Is(err, pkg.ErrRejected) {
				t.Fatalf("Do() = %v, want rejection", err)
			}
			if resp.Status != tt.status {
				t.Errorf("Status = %v, want %v", resp.Status, tt.status)
			}
		})
	}
}

func TestSynth_BadVariation(t *testing.T) {
	_, s, _ := setup(t, protocol.DefaultConfig())
	resp, _ := do(t, s, protocol.SlotA, protocol.OpBeginUpload, must(protocol.EncodeBeginUpload(patch.MaxVariations, "x")))
	if resp.Status != pkg.StatusBadArgument {
		t.Errorf("Status = %v, want bad argument", resp.Status)
	}
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestSynth_SlotOpOnSystemChannel(t *testing.T) {
	_, s, _ := setup(t, protocol.DefaultConfig())
	resp, err := do(t, s, protocol.System, protocol.OpPatchInfo, nil)
	if !errors.Is(err, pkg.ErrRejected) || resp.Status != pkg.StatusBadArgument {
		t.Errorf("Do() = %v, %v; want bad argument", resp.Status, err)
	}
}

func TestSynth_UnknownOpcode(t *testing.T) {
	const opExtra = protocol.Op(64)
	table, err := protocol.NewTable(protocol.Version1, map[protocol.Op]protocol.OpInfo{
		protocol.OpHello: {Name: "hello", Code: 0x01},
		opExtra:          {Name: "extra", Code: 0x55},
	})
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	cfg := protocol.DefaultConfig()
	cfg.Table = table
	_, s, _ := setup(t, cfg)

	resp, err := do(t, s, protocol.System, opExtra, nil)
	if !errors.Is(err, pkg.ErrRejected) || resp.Status != pkg.StatusUnknownOp {
		t.Errorf("Do() = %v, %v; want unknown opcode", resp.Status, err)
	}
}

func TestSynth_SetParam(t *testing.T) {
	p := simplePatch(t)
	synth, s, _ := setup(t, protocol.DefaultConfig(), device.WithPatch(patch.SlotA, p))

	tests := []struct {
		name   string
		ack    func(protocol.ParamValue) int
		value  int
		want   int
		status pkg.Status
	}{
		{"echo", nil, 100, 100, pkg.StatusOK},
		{"clamped", func(v protocol.ParamValue) int { return 64 }, 120, 64, pkg.StatusOK},
		{"out of range", nil, 128, 0, pkg.StatusBadArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth.SetAckFunc(tt.ack)
			body := must(protocol.EncodeParamValue(protocol.ParamValue{Module: 1, Param: 0, Value: tt.value}))
			resp, _ := do(t, s, protocol.SlotA, protocol.OpSetParam, body)
			if resp.Status != tt.status {
				t.Fatalf("Status = %v, want %v", resp.Status, tt.status)
			}
			if tt.status != pkg.StatusOK {
				return
			}
			if v := must(protocol.DecodeValue(resp.Body)); v != tt.want {
				t.Errorf("ack = %d, want %d", v, tt.want)
			}
			prm, err := synth.Patch(patch.SlotA).Param(1, 0)
			if err != nil || prm.Value != tt.want {
				t.Errorf("device value = %v, %v; want %d", prm, err, tt.want)
			}
		})
	}
}

// =============================================================================
// Raw Link Tests
// =============================================================================

func TestSynth_RetransmissionAnsweredFromCache(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host, end := pipe.New()
	synth := device.New(end, device.WithPatch(patch.SlotA, simplePatch(t)))
	if err := synth.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer synth.Stop()
	if err := host.Open(ctx, transport.DefaultConfig()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer host.Close()

	acks := 0
	synth.SetAckFunc(func(v protocol.ParamValue) int {
		acks++
		return v.Value
	})

	table := protocol.Version1Table()
	info, _ := table.Info(protocol.OpSetParam)
	body := must(protocol.EncodeParamValue(protocol.ParamValue{Module: 1, Param: 0, Value: 5}))
	cmd := protocol.AppendCommand(nil, protocol.Header{Channel: protocol.SlotA, Code: info.Code, Seq: 7}, body)
	frames := must(frame.NewEncoder(frame.Options{}).Encode(frame.KindCommand, cmd))

	framer := frame.NewFramer(frame.Options{})
	var responses [][]byte
	for range 2 {
		if err := host.Send(ctx, frames[0]); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		select {
		case buf := <-host.Inbound():
			for msg, err := range framer.Feed(buf) {
				if err != nil {
					t.Fatalf("framing error: %v", err)
				}
				responses = append(responses, msg.Payload)
			}
		case <-ctx.Done():
			t.Fatal("no response")
		}
	}

	if len(responses) != 2 || string(responses[0]) != string(responses[1]) {
		t.Fatalf("responses = %x, want two identical", responses)
	}
	if n := synth.Received(protocol.OpSetParam); n != 2 {
		t.Errorf("Received() = %d, want 2", n)
	}
	if acks != 1 {
		t.Errorf("command executed %d times, want once", acks)
	}
}

func TestSynth_UnplugAfter(t *testing.T) {
	synth, s, end := setup(t, protocol.DefaultConfig())
	synth.UnplugAfter(protocol.OpHello, 1)

	if _, err := s.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session still running after unplug")
	}
	if end.Plugged() {
		t.Error("link still plugged")
	}
	if !errors.Is(s.Err(), pkg.ErrConnectionLost) {
		t.Errorf("Err() = %v, want ErrConnectionLost", s.Err())
	}
}

// =============================================================================
// Lifecycle and Event Tests
// =============================================================================

func TestSynth_StartTwice(t *testing.T) {
	_, end := pipe.New()
	synth := device.New(end)
	if err := synth.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer synth.Stop()
	if err := synth.Start(context.Background()); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
	if err := synth.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := synth.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestSynth_TurnKnob(t *testing.T) {
	events := make(chan protocol.Event, 1)
	cfg := protocol.DefaultConfig()
	cfg.OnEvent = func(ev protocol.Event) { events <- ev }
	synth, s, _ := setup(t, cfg, device.WithPatch(patch.SlotA, simplePatch(t)))

	// Communication off: the change is silent.
	if err := synth.TurnKnob(patch.SlotA, 1, 0, 10); err != nil {
		t.Fatalf("TurnKnob failed: %v", err)
	}
	mustDo(t, s, protocol.SlotA, protocol.OpPatchInfo, nil)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
	if prm, _ := synth.Patch(patch.SlotA).Param(1, 0); prm.Value != 10 {
		t.Errorf("value = %d, want 10", prm.Value)
	}

	if err := s.SetCommunication(context.Background(), true); err != nil {
		t.Fatalf("SetCommunication failed: %v", err)
	}
	if err := synth.TurnKnob(patch.SlotA, 1, 0, 11); err != nil {
		t.Fatalf("TurnKnob failed: %v", err)
	}
	select {
	case ev := <-events:
		v := must(protocol.DecodeParamValue(ev.Body))
		if v.Value != 11 || ev.Channel != protocol.SlotA {
			t.Errorf("event = %+v, value %+v", ev, v)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	if err := synth.TurnKnob(patch.SlotA, 42, 0, 1); !errors.Is(err, patch.ErrUnknownModule) {
		t.Errorf("TurnKnob(unknown) = %v, want ErrUnknownModule", err)
	}
}
