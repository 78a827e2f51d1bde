package patch

import (
	"errors"
	"fmt"

	"github.com/ardnew/g2link/pkg"
)

// Patch errors. Structural errors wrap pkg.ErrPatchInconsistent.
var (
	ErrOutOfRange      = errors.New("parameter value out of range")
	ErrDuplicateModule = fmt.Errorf("%w: duplicate module id", pkg.ErrPatchInconsistent)
	ErrInputTaken      = fmt.Errorf("%w: input already connected", pkg.ErrPatchInconsistent)
	ErrUnknownModule   = fmt.Errorf("%w: unknown module", pkg.ErrPatchInconsistent)
	ErrUnknownPort     = fmt.Errorf("%w: unknown port", pkg.ErrPatchInconsistent)
	ErrUnknownParam    = fmt.Errorf("%w: unknown parameter", pkg.ErrPatchInconsistent)
	ErrUnknownType     = errors.New("unknown module type")
	ErrPatchFull       = errors.New("no free module id")
)

// ModuleID identifies a module within a patch. Zero is never assigned.
type ModuleID uint8

// Module ID bounds.
const (
	MinModuleID ModuleID = 1
	MaxModuleID ModuleID = 255
)

// ModuleType selects a module's behavior on the device.
type ModuleType uint8

// Direction is the data direction of a port.
type Direction uint8

// Port directions.
const (
	In Direction = iota
	Out
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// Signal is the kind of signal a port carries.
type Signal uint8

// Signal kinds.
const (
	Audio Signal = iota
	Control
	Logic
)

// String returns a string representation of the signal.
func (s Signal) String() string {
	switch s {
	case Audio:
		return "audio"
	case Control:
		return "control"
	case Logic:
		return "logic"
	default:
		return fmt.Sprintf("signal(%d)", uint8(s))
	}
}

// Scaling describes how a parameter's raw value maps to its unit.
type Scaling uint8

// Scaling kinds.
const (
	Linear Scaling = iota
	Exponential
	Enumerated
)

// String returns a string representation of the scaling.
func (s Scaling) String() string {
	switch s {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	case Enumerated:
		return "enumerated"
	default:
		return fmt.Sprintf("scaling(%d)", uint8(s))
	}
}

// Color is a cable's display color.
type Color uint8

// Cable colors.
const (
	Red Color = iota
	Blue
	Yellow
	Orange
	Green
	Purple
	White
)

// Slot is one of the device's four patch slots.
type Slot uint8

// Slots.
const (
	SlotA Slot = iota
	SlotB
	SlotC
	SlotD
)

// NumSlots is the number of patch slots.
const NumSlots = 4

// String returns the slot letter.
func (s Slot) String() string {
	if s < NumSlots {
		return string(rune('A' + s))
	}
	return fmt.Sprintf("slot(%d)", uint8(s))
}

// MaxVariations is the number of parameter variations per patch.
const MaxVariations = 8

// PortRef addresses one port of one module.
type PortRef struct {
	Module ModuleID
	Index  uint8
	Dir    Direction
}

func (r PortRef) String() string {
	return fmt.Sprintf("%d.%s%d", r.Module, r.Dir, r.Index)
}

// Port describes one connection point of a module.
type Port struct {
	Index  uint8
	Dir    Direction
	Signal Signal
	Name   string
}

// Range is an inclusive value range.
type Range struct {
	Min, Max int
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Unit names a parameter's unit and scaling.
type Unit struct {
	Name    string
	Scaling Scaling
}

// Parameter is one adjustable value of a module.
type Parameter struct {
	Index uint8
	Name  string
	Value int
	Range Range
	Unit  Unit

	// Dirty is set while a host change awaits device acknowledgment.
	Dirty bool
}

// SetValue stores v if it lies inside the range.
func (p *Parameter) SetValue(v int) error {
	if !p.Range.Contains(v) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, v, p.Range.Min, p.Range.Max)
	}
	p.Value = v
	return nil
}

// Cable connects an output port to an input port.
type Cable struct {
	From  PortRef
	To    PortRef
	Color Color
}

func (c Cable) String() string {
	return c.From.String() + "->" + c.To.String()
}
