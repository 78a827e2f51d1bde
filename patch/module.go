package patch

import "slices"

// Module is one node of the patch graph.
type Module struct {
	ID      ModuleID
	Type    ModuleType
	Name    string
	Params  []Parameter
	Inputs  []Port
	Outputs []Port
}

// Param returns the parameter with the given index, or nil.
func (m *Module) Param(index uint8) *Parameter {
	for i := range m.Params {
		if m.Params[i].Index == index {
			return &m.Params[i]
		}
	}
	return nil
}

// Port returns the port with the given direction and index, or nil.
func (m *Module) Port(dir Direction, index uint8) *Port {
	ports := m.Inputs
	if dir == Out {
		ports = m.Outputs
	}
	for i := range ports {
		if ports[i].Index == index {
			return &ports[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the module.
func (m *Module) Clone() *Module {
	c := *m
	c.Params = slices.Clone(m.Params)
	c.Inputs = slices.Clone(m.Inputs)
	c.Outputs = slices.Clone(m.Outputs)
	return &c
}

// equal compares content, ignoring dirty flags.
func (m *Module) equal(o *Module) bool {
	if m.ID != o.ID || m.Type != o.Type || m.Name != o.Name {
		return false
	}
	if !slices.Equal(m.Inputs, o.Inputs) || !slices.Equal(m.Outputs, o.Outputs) {
		return false
	}
	return slices.EqualFunc(m.Params, o.Params, func(a, b Parameter) bool {
		a.Dirty, b.Dirty = false, false
		return a == b
	})
}
