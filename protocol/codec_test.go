package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/g2link/patch"
	"github.com/ardnew/g2link/pkg"
)

func TestHeaders(t *testing.T) {
	h := Header{Channel: SlotB, Code: 0x11, Seq: 42}

	cmd := AppendCommand(nil, h, []byte{7})
	if !bytes.Equal(cmd, []byte{2, 0x11, 42, 7}) {
		t.Errorf("AppendCommand() = %x", cmd)
	}
	gh, body, err := ParseCommand(cmd)
	if err != nil || gh != h || !bytes.Equal(body, []byte{7}) {
		t.Errorf("ParseCommand() = %+v, %x, %v", gh, body, err)
	}

	resp := AppendResponse(nil, h, pkg.StatusNoPort, []byte{1, 2})
	gh, status, body, err := ParseResponse(resp)
	if err != nil || gh != h || status != pkg.StatusNoPort || !bytes.Equal(body, []byte{1, 2}) {
		t.Errorf("ParseResponse() = %+v, %v, %x, %v", gh, status, body, err)
	}

	ev := AppendEvent(nil, SlotA, 0x40, []byte{9})
	ch, code, body, err := ParseEvent(ev)
	if err != nil || ch != SlotA || code != 0x40 || !bytes.Equal(body, []byte{9}) {
		t.Errorf("ParseEvent() = %v, %x, %x, %v", ch, code, body, err)
	}
}

func TestHeaders_Short(t *testing.T) {
	if _, _, err := ParseCommand([]byte{1, 2}); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseCommand(short) = %v", err)
	}
	if _, _, _, err := ParseResponse([]byte{1, 2, 3}); !errors.Is(err, pkg.ErrFraming) {
		t.Errorf("ParseResponse(short) = %v, want ErrFraming", err)
	}
	if _, _, _, err := ParseEvent([]byte{1}); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseEvent(short) = %v", err)
	}
}

func TestPatchInfoBody(t *testing.T) {
	in := PatchInfo{Version: 3, Variation: 2, Name: "Bass"}
	b, err := EncodePatchInfo(in)
	if err != nil {
		t.Fatalf("EncodePatchInfo failed: %v", err)
	}
	out, err := DecodePatchInfo(b)
	if err != nil || out != in {
		t.Errorf("DecodePatchInfo() = %+v, %v", out, err)
	}
	if _, err := DecodePatchInfo(b[:3]); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodePatchInfo(truncated) = %v", err)
	}
	if _, err := DecodePatchInfo(append(b, 0)); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodePatchInfo(trailing) = %v", err)
	}
}

func TestModulesBody(t *testing.T) {
	cat := patch.DefaultCatalog()
	osc, _ := cat.NewModule(2, patch.TypeOscB)
	odd := &patch.Module{
		ID:      9,
		Type:    240, // not in the catalog
		Name:    "custom",
		Inputs:  []patch.Port{{Index: 0, Dir: patch.In, Signal: patch.Logic}},
		Outputs: []patch.Port{{Index: 0, Dir: patch.Out, Signal: patch.Control}},
	}

	b, err := EncodeModules([]*patch.Module{osc, odd})
	if err != nil {
		t.Fatalf("EncodeModules failed: %v", err)
	}
	mods, err := DecodeModules(b, cat)
	if err != nil {
		t.Fatalf("DecodeModules failed: %v", err)
	}
	if len(mods) != 2 {
		t.Fatalf("decoded %d modules, want 2", len(mods))
	}

	got := mods[0]
	if got.ID != 2 || got.Type != patch.TypeOscB || len(got.Inputs) != 5 || len(got.Outputs) != 1 {
		t.Errorf("osc = %+v", got)
	}
	if got.Inputs[2].Name != "Sync" || got.Inputs[2].Signal != patch.Audio {
		t.Errorf("osc input 2 = %+v, want Sync/audio", got.Inputs[2])
	}
	if mods[1].Name != "custom" || mods[1].Inputs[0].Signal != patch.Logic || mods[1].Inputs[0].Name != "" {
		t.Errorf("custom = %+v", mods[1])
	}
}

func TestParamsBody(t *testing.T) {
	cat := patch.DefaultCatalog()
	m, _ := cat.NewModule(4, patch.TypeEnvADSR)
	m.Params[1].Value = 99

	b, err := EncodeParams(m)
	if err != nil {
		t.Fatalf("EncodeParams failed: %v", err)
	}
	info, _ := cat.Lookup(patch.TypeEnvADSR)
	id, params, err := DecodeParams(b, info)
	if err != nil {
		t.Fatalf("DecodeParams failed: %v", err)
	}
	if id != 4 || len(params) != len(m.Params) {
		t.Fatalf("DecodeParams() = %d, %d params", id, len(params))
	}
	for i := range params {
		if params[i] != m.Params[i] {
			t.Errorf("param %d = %+v, want %+v", i, params[i], m.Params[i])
		}
	}
}

func TestParamsBody_ValueTooLarge(t *testing.T) {
	m := &patch.Module{ID: 1, Params: []patch.Parameter{{Value: 300, Range: patch.Range{Min: 0, Max: 1000}}}}
	if _, err := EncodeParams(m); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("EncodeParams(300) = %v, want ErrInvalidParameter", err)
	}
}

func TestAddModuleBody(t *testing.T) {
	cat := patch.DefaultCatalog()
	m, _ := cat.NewModule(3, patch.TypeFilterClassic)
	m.Name = "Filter"
	m.Params[0].Value = 20

	b, err := EncodeAddModule(m)
	if err != nil {
		t.Fatalf("EncodeAddModule failed: %v", err)
	}
	got, err := DecodeAddModule(b, cat)
	if err != nil {
		t.Fatalf("DecodeAddModule failed: %v", err)
	}
	p1, p2 := patch.New(), patch.New()
	p1.AddModule(m)
	p2.AddModule(got)
	if !p1.Equal(p2) {
		t.Errorf("decoded module %+v differs from %+v", got, m)
	}
}

func TestCablesBody(t *testing.T) {
	cables := []patch.Cable{
		{From: patch.PortRef{Module: 1, Index: 0, Dir: patch.Out}, To: patch.PortRef{Module: 2, Index: 3, Dir: patch.In}, Color: patch.Yellow},
		{From: patch.PortRef{Module: 2, Index: 0, Dir: patch.Out}, To: patch.PortRef{Module: 3, Index: 0, Dir: patch.In}, Color: patch.Red},
	}
	b, err := EncodeCables(cables)
	if err != nil {
		t.Fatalf("EncodeCables failed: %v", err)
	}
	got, err := DecodeCables(b)
	if err != nil {
		t.Fatalf("DecodeCables failed: %v", err)
	}
	if len(got) != 2 || got[0] != cables[0] || got[1] != cables[1] {
		t.Errorf("DecodeCables() = %v", got)
	}

	one, err := DecodeCable(EncodeCable(cables[1]))
	if err != nil || one != cables[1] {
		t.Errorf("DecodeCable() = %v, %v", one, err)
	}
	if _, err := DecodeCables(b[:len(b)-1]); !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodeCables(truncated) = %v", err)
	}
}

func TestParamValueBody(t *testing.T) {
	v := ParamValue{Module: 4, Param: 1, Value: 64, Variation: 2}
	b, err := EncodeParamValue(v)
	if err != nil {
		t.Fatalf("EncodeParamValue failed: %v", err)
	}
	if !bytes.Equal(b, []byte{4, 1, 64, 2}) {
		t.Errorf("EncodeParamValue() = %x", b)
	}
	got, err := DecodeParamValue(b)
	if err != nil || got != v {
		t.Errorf("DecodeParamValue() = %+v, %v", got, err)
	}
	if _, err := EncodeParamValue(ParamValue{Value: -1}); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("EncodeParamValue(-1) = %v", err)
	}
}

func TestSmallBodies(t *testing.T) {
	if v, err := DecodeVersion(EncodeVersion(7)); err != nil || v != 7 {
		t.Errorf("version = %d, %v", v, err)
	}
	if on, err := DecodeFlag(EncodeFlag(true)); err != nil || !on {
		t.Errorf("flag = %v, %v", on, err)
	}
	if id, err := DecodeParamsRequest(EncodeParamsRequest(12)); err != nil || id != 12 {
		t.Errorf("params request = %d, %v", id, err)
	}
	b, _ := EncodeBeginUpload(3, "Lead")
	if v, name, err := DecodeBeginUpload(b); err != nil || v != 3 || name != "Lead" {
		t.Errorf("begin upload = %d, %q, %v", v, name, err)
	}
	b, _ = EncodeValue(127)
	if v, err := DecodeValue(b); err != nil || v != 127 {
		t.Errorf("value = %d, %v", v, err)
	}
}
