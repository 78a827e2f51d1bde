package patch

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// Patch is the graph of modules and cables loaded into one slot.
type Patch struct {
	Name      string
	Slot      Slot
	Variation uint8
	Version   uint8

	modules map[ModuleID]*Module
	cables  map[PortRef]Cable // keyed by the input port
}

// New creates an empty patch.
func New() *Patch {
	return &Patch{
		modules: make(map[ModuleID]*Module),
		cables:  make(map[PortRef]Cable),
	}
}

// AddModule inserts m. The patch takes ownership of m.
func (p *Patch) AddModule(m *Module) error {
	if m == nil || m.ID < MinModuleID {
		return fmt.Errorf("%w: module id 0", ErrUnknownModule)
	}
	if _, ok := p.modules[m.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateModule, m.ID)
	}
	for _, prm := range m.Params {
		if !prm.Range.Contains(prm.Value) {
			return fmt.Errorf("module %d param %d: %w", m.ID, prm.Index, ErrOutOfRange)
		}
	}
	p.lazyInit()
	p.modules[m.ID] = m
	return nil
}

func (p *Patch) lazyInit() {
	if p.modules == nil {
		p.modules = make(map[ModuleID]*Module)
	}
	if p.cables == nil {
		p.cables = make(map[PortRef]Cable)
	}
}

// InsertModule creates a module of type t from the catalog under the
// lowest free ID.
func (p *Patch) InsertModule(c Catalog, t ModuleType) (*Module, error) {
	id, ok := p.freeID()
	if !ok {
		return nil, ErrPatchFull
	}
	m, err := c.NewModule(id, t)
	if err != nil {
		return nil, err
	}
	p.lazyInit()
	p.modules[id] = m
	return m, nil
}

func (p *Patch) freeID() (ModuleID, bool) {
	for id := MinModuleID; ; id++ {
		if _, ok := p.modules[id]; !ok {
			return id, true
		}
		if id == MaxModuleID {
			return 0, false
		}
	}
}

// RemoveModule deletes a module and every cable touching it.
func (p *Patch) RemoveModule(id ModuleID) error {
	if _, ok := p.modules[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownModule, id)
	}
	delete(p.modules, id)
	maps.DeleteFunc(p.cables, func(_ PortRef, c Cable) bool {
		return c.From.Module == id || c.To.Module == id
	})
	return nil
}

// Module returns the module with the given ID, or nil.
func (p *Patch) Module(id ModuleID) *Module {
	return p.modules[id]
}

// Modules returns all modules ordered by ID.
func (p *Patch) Modules() []*Module {
	return slices.SortedFunc(maps.Values(p.modules), func(a, b *Module) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// NumModules returns the module count.
func (p *Patch) NumModules() int {
	return len(p.modules)
}

// Connect adds a cable from an output to an input.
func (p *Patch) Connect(c Cable) error {
	if err := p.checkPort(c.From, Out); err != nil {
		return err
	}
	if err := p.checkPort(c.To, In); err != nil {
		return err
	}
	if _, ok := p.cables[c.To]; ok {
		return fmt.Errorf("%w: %s", ErrInputTaken, c.To)
	}
	p.lazyInit()
	p.cables[c.To] = c
	return nil
}

// Disconnect removes the cable feeding the input port to.
func (p *Patch) Disconnect(to PortRef) error {
	if _, ok := p.cables[to]; !ok {
		return fmt.Errorf("%w: no cable at %s", ErrUnknownPort, to)
	}
	delete(p.cables, to)
	return nil
}

// Cables returns all cables ordered by input port.
func (p *Patch) Cables() []Cable {
	return slices.SortedFunc(maps.Values(p.cables), compareCables)
}

func compareCables(a, b Cable) int {
	return cmp.Or(
		cmp.Compare(a.To.Module, b.To.Module),
		cmp.Compare(a.To.Index, b.To.Index),
		cmp.Compare(a.From.Module, b.From.Module),
		cmp.Compare(a.From.Index, b.From.Index),
	)
}

// checkPort verifies that ref names an existing port of the expected
// direction.
func (p *Patch) checkPort(ref PortRef, dir Direction) error {
	m, ok := p.modules[ref.Module]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownModule, ref.Module)
	}
	if ref.Dir != dir || m.Port(dir, ref.Index) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPort, ref)
	}
	return nil
}

// Param returns a module's parameter.
func (p *Patch) Param(id ModuleID, index uint8) (*Parameter, error) {
	m, ok := p.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownModule, id)
	}
	prm := m.Param(index)
	if prm == nil {
		return nil, fmt.Errorf("%w: module %d param %d", ErrUnknownParam, id, index)
	}
	return prm, nil
}

// SetParam sets a parameter value and its dirty flag.
func (p *Patch) SetParam(id ModuleID, index uint8, value int, dirty bool) error {
	prm, err := p.Param(id, index)
	if err != nil {
		return err
	}
	if err := prm.SetValue(value); err != nil {
		return err
	}
	prm.Dirty = dirty
	return nil
}

// MarkClean clears every dirty flag.
func (p *Patch) MarkClean() {
	for _, m := range p.modules {
		for i := range m.Params {
			m.Params[i].Dirty = false
		}
	}
}

// Dirty reports whether any parameter awaits acknowledgment.
func (p *Patch) Dirty() bool {
	for _, m := range p.modules {
		for _, prm := range m.Params {
			if prm.Dirty {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy.
func (p *Patch) Clone() *Patch {
	c := *p
	c.modules = make(map[ModuleID]*Module, len(p.modules))
	for id, m := range p.modules {
		c.modules[id] = m.Clone()
	}
	c.cables = maps.Clone(p.cables)
	return &c
}

// Equal reports whether both patches hold the same name, slot, variation,
// modules, parameter values and cables. Version and dirty flags are ignored.
func (p *Patch) Equal(o *Patch) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Name != o.Name || p.Slot != o.Slot || p.Variation != o.Variation {
		return false
	}
	if len(p.modules) != len(o.modules) || !maps.Equal(p.cables, o.cables) {
		return false
	}
	for id, m := range p.modules {
		om, ok := o.modules[id]
		if !ok || !m.equal(om) {
			return false
		}
	}
	return true
}

// Validate checks every invariant of the patch.
func (p *Patch) Validate() error {
	if p.Slot >= NumSlots {
		return fmt.Errorf("%w: slot %d", ErrOutOfRange, p.Slot)
	}
	if p.Variation >= MaxVariations {
		return fmt.Errorf("%w: variation %d", ErrOutOfRange, p.Variation)
	}
	for _, m := range p.Modules() {
		if m.ID < MinModuleID {
			return fmt.Errorf("%w: module id 0", ErrUnknownModule)
		}
		for _, prm := range m.Params {
			if !prm.Range.Contains(prm.Value) {
				return fmt.Errorf("module %d param %d: %w", m.ID, prm.Index, ErrOutOfRange)
			}
		}
	}
	for to, c := range p.cables {
		if to != c.To {
			return fmt.Errorf("%w: cable %s indexed at %s", ErrUnknownPort, c, to)
		}
		if err := p.checkPort(c.From, Out); err != nil {
			return err
		}
		if err := p.checkPort(c.To, In); err != nil {
			return err
		}
	}
	return nil
}
