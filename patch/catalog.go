package patch

import (
	"fmt"
	"maps"
	"slices"
)

// Module types of the default catalog.
const (
	TypeKeyboard      ModuleType = 1
	Type2Out          ModuleType = 4
	TypeInvert        ModuleType = 5
	TypeOscB          ModuleType = 7
	TypeEnvADSR       ModuleType = 20
	TypeLfoA          ModuleType = 26
	TypeFilterClassic ModuleType = 92
	TypeMix41A        ModuleType = 193
)

// PortInfo describes a port of a module type.
type PortInfo struct {
	Name   string
	Signal Signal
}

// ParamInfo describes a parameter of a module type.
type ParamInfo struct {
	Name    string
	Default int
	Range   Range
	Unit    Unit
}

// TypeInfo describes the fixed shape of a module type.
type TypeInfo struct {
	Type    ModuleType
	Name    string
	Inputs  []PortInfo
	Outputs []PortInfo
	Params  []ParamInfo
}

// Catalog maps module types to their shapes.
type Catalog map[ModuleType]TypeInfo

// Lookup returns the type info for t.
func (c Catalog) Lookup(t ModuleType) (TypeInfo, bool) {
	info, ok := c[t]
	return info, ok
}

// Types returns the catalog's types in ascending order.
func (c Catalog) Types() []ModuleType {
	return slices.Sorted(maps.Keys(c))
}

// NewModule builds a module of type t with default parameter values.
func (c Catalog) NewModule(id ModuleID, t ModuleType) (*Module, error) {
	info, ok := c[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	m := &Module{ID: id, Type: t, Name: info.Name}
	for i, p := range info.Inputs {
		m.Inputs = append(m.Inputs, Port{Index: uint8(i), Dir: In, Signal: p.Signal, Name: p.Name})
	}
	for i, p := range info.Outputs {
		m.Outputs = append(m.Outputs, Port{Index: uint8(i), Dir: Out, Signal: p.Signal, Name: p.Name})
	}
	for i, p := range info.Params {
		m.Params = append(m.Params, Parameter{
			Index: uint8(i),
			Name:  p.Name,
			Value: p.Default,
			Range: p.Range,
			Unit:  p.Unit,
		})
	}
	return m, nil
}

// Helpers for the default catalog.
func level(name string, def int) ParamInfo {
	return ParamInfo{Name: name, Default: def, Range: Range{0, 127}, Unit: Unit{Scaling: Linear}}
}

func freq(name string, def int) ParamInfo {
	return ParamInfo{Name: name, Default: def, Range: Range{0, 127}, Unit: Unit{Name: "Hz", Scaling: Exponential}}
}

func time127(name string) ParamInfo {
	return ParamInfo{Name: name, Range: Range{0, 127}, Unit: Unit{Name: "s", Scaling: Exponential}}
}

func choice(name string, def int, options ...string) ParamInfo {
	return ParamInfo{Name: name, Default: def, Range: Range{0, len(options) - 1}, Unit: Unit{Scaling: Enumerated}}
}

func in(name string, s Signal) PortInfo  { return PortInfo{Name: name, Signal: s} }
func out(name string, s Signal) PortInfo { return PortInfo{Name: name, Signal: s} }

// DefaultCatalog returns a catalog of common module types.
func DefaultCatalog() Catalog {
	active := choice("Active", 1, "Monitor", "Active")
	outType := func(def int) ParamInfo {
		return choice("OutputType", def, "Pos", "PosInv", "Neg", "NegInv", "Bip", "BipInv")
	}

	types := []TypeInfo{
		{
			Type: TypeKeyboard,
			Name: "Keyboard",
			Outputs: []PortInfo{
				out("Pitch", Control), out("Gate", Logic), out("Lin", Control),
				out("Release", Control), out("Note", Control), out("Exp", Control),
			},
		},
		{
			Type:   Type2Out,
			Name:   "2-Out",
			Inputs: []PortInfo{in("InL", Audio), in("InR", Audio)},
			Params: []ParamInfo{
				choice("Destination", 0, "Out 1/2", "Out 3/4", "Fx 1/2", "Fx 3/4", "Bus 1/2", "Bus 3/4"),
				active,
				choice("Pad", 0, "0 dB", "+6 dB"),
			},
		},
		{
			Type:    TypeInvert,
			Name:    "Logic Inverter",
			Inputs:  []PortInfo{in("In1", Logic), in("In2", Logic)},
			Outputs: []PortInfo{out("Out1", Logic), out("Out2", Logic)},
		},
		{
			Type: TypeOscB,
			Name: "Osc B",
			Inputs: []PortInfo{
				in("Pitch", Control), in("PitchVar", Control), in("Sync", Audio),
				in("FmMod", Audio), in("ShapeMod", Audio),
			},
			Outputs: []PortInfo{out("Out", Audio)},
			Params: []ParamInfo{
				freq("FreqCoarse", 64),
				level("FreqFine", 64),
				choice("Kbt", 1, "Off", "On"),
				level("PitchMod", 0),
				choice("FreqMode", 0, "Semi", "Freq", "Fac", "Part"),
				level("FmAmount", 0),
				level("Shape", 0),
				level("ShapeMod", 0),
				choice("Waveform", 0, "Sine", "Tri", "Saw", "Pulse", "DualSaw"),
				active,
				choice("FmMode", 0, "Lin", "Trk"),
			},
		},
		{
			Type:    TypeEnvADSR,
			Name:    "Env ADSR",
			Inputs:  []PortInfo{in("In", Audio), in("Gate", Logic), in("AM", Control)},
			Outputs: []PortInfo{out("Env", Control), out("Out", Audio)},
			Params: []ParamInfo{
				choice("Shape", 0, "LogExp", "LinExp", "ExpExp", "LinLin"),
				time127("Attack"),
				time127("Decay"),
				level("Sustain", 0),
				time127("Release"),
				outType(0),
				choice("KB", 0, "Off", "On"),
				choice("NR", 0, "Normal", "Reset"),
			},
		},
		{
			Type:    TypeLfoA,
			Name:    "LFO A",
			Inputs:  []PortInfo{in("Rate", Control), in("RateVar", Control)},
			Outputs: []PortInfo{out("Out", Control)},
			Params: []ParamInfo{
				freq("Rate", 1),
				choice("PolyMono", 0, "Poly", "Mono"),
				choice("Kbt", 0, "Off", "25%", "50%", "75%", "100%"),
				level("RateMod", 0),
				choice("Waveform", 0, "Sine", "Tri", "Saw", "Sqr", "RndStep", "Rnd"),
				active,
				outType(4),
				choice("Range", 1, "Rate Sub", "Rate Lo", "Rate Hi", "BPM"),
			},
		},
		{
			Type:    TypeFilterClassic,
			Name:    "Filter Classic",
			Inputs:  []PortInfo{in("In", Audio), in("PitchVar", Control), in("Pitch", Control)},
			Outputs: []PortInfo{out("Out", Audio)},
			Params: []ParamInfo{
				freq("Freq", 75),
				level("PitchMod", 0),
				choice("Kbt", 0, "Off", "25%", "50%", "75%", "100%"),
				level("Res", 0),
				choice("Slope", 0, "12 dB/Oct", "18 dB/Oct", "24 dB/Oct"),
				active,
			},
		},
		{
			Type:    TypeMix41A,
			Name:    "Mixer 4-1",
			Inputs:  []PortInfo{in("In1", Audio), in("In2", Audio), in("In3", Audio), in("In4", Audio)},
			Outputs: []PortInfo{out("Out", Audio)},
		},
	}

	c := make(Catalog, len(types))
	for _, t := range types {
		c[t.Type] = t
	}
	return c
}
