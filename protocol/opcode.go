package protocol

import (
	"fmt"

	"github.com/ardnew/g2link/patch"
)

// Opcode is the wire code of an operation.
type Opcode uint8

// Op is a logical protocol operation.
type Op uint8

// Operations.
const (
	OpHello Op = iota
	OpComm
	OpPatchInfo
	OpModules
	OpParams
	OpCables
	OpSetParam
	OpBeginUpload
	OpAddModule
	OpAddCable
	OpEndUpload
	OpParamChanged
)

// TimeoutClass selects the deadline applied to a request.
type TimeoutClass uint8

// Timeout classes.
const (
	ControlClass TimeoutClass = iota
	TransferClass
)

// OpInfo describes one operation in a [Table].
type OpInfo struct {
	Name    string
	Code    Opcode
	Timeout TimeoutClass
	Event   bool // unsolicited device message, never sent by the host
}

// Channel addresses the system or one patch slot.
type Channel uint8

// Channels.
const (
	System Channel = iota
	SlotA
	SlotB
	SlotC
	SlotD
)

// NumChannels is the number of independent request channels.
const NumChannels = 5

// SlotChannel returns the channel of a patch slot.
func SlotChannel(s patch.Slot) Channel {
	return SlotA + Channel(s)
}

// Slot returns the patch slot of a slot channel.
func (c Channel) Slot() (patch.Slot, bool) {
	if c < SlotA || c > SlotD {
		return 0, false
	}
	return patch.Slot(c - SlotA), true
}

// String returns a string representation of the channel.
func (c Channel) String() string {
	if c == System {
		return "system"
	}
	if s, ok := c.Slot(); ok {
		return "slot" + s.String()
	}
	return fmt.Sprintf("channel(%d)", uint8(c))
}

// Table maps logical operations to wire codes for one protocol version.
type Table struct {
	version uint8
	ops     map[Op]OpInfo
	codes   map[codeKey]Op
}

type codeKey struct {
	code  Opcode
	event bool
}

// NewTable builds a table. Two commands (or two events) may not share a code.
func NewTable(version uint8, ops map[Op]OpInfo) (*Table, error) {
	t := &Table{
		version: version,
		ops:     make(map[Op]OpInfo, len(ops)),
		codes:   make(map[codeKey]Op, len(ops)),
	}
	for op, info := range ops {
		key := codeKey{info.Code, info.Event}
		if prev, ok := t.codes[key]; ok {
			return nil, fmt.Errorf("opcode 0x%02x used by %s and %s", info.Code, t.ops[prev].Name, info.Name)
		}
		t.ops[op] = info
		t.codes[key] = op
	}
	return t, nil
}

// Version returns the protocol version the table describes.
func (t *Table) Version() uint8 {
	return t.version
}

// Info returns the description of op.
func (t *Table) Info(op Op) (OpInfo, bool) {
	info, ok := t.ops[op]
	return info, ok
}

// Name returns the operation name, or a placeholder for unknown ops.
func (t *Table) Name(op Op) string {
	if info, ok := t.ops[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Command returns the command with the given code.
func (t *Table) Command(code Opcode) (Op, bool) {
	op, ok := t.codes[codeKey{code, false}]
	return op, ok
}

// Event returns the event with the given code.
func (t *Table) Event(code Opcode) (Op, bool) {
	op, ok := t.codes[codeKey{code, true}]
	return op, ok
}

// Version1 is the protocol version of the stock firmware.
const Version1 = 1

// Version1Table returns the opcode table for [Version1].
func Version1Table() *Table {
	t, err := NewTable(Version1, map[Op]OpInfo{
		OpHello:        {Name: "hello", Code: 0x01, Timeout: ControlClass},
		OpComm:         {Name: "comm", Code: 0x7d, Timeout: ControlClass},
		OpPatchInfo:    {Name: "patch_info", Code: 0x13, Timeout: ControlClass},
		OpModules:      {Name: "modules", Code: 0x10, Timeout: TransferClass},
		OpParams:       {Name: "params", Code: 0x11, Timeout: TransferClass},
		OpCables:       {Name: "cables", Code: 0x12, Timeout: TransferClass},
		OpSetParam:     {Name: "set_param", Code: 0x40, Timeout: ControlClass},
		OpBeginUpload:  {Name: "begin_upload", Code: 0x30, Timeout: ControlClass},
		OpAddModule:    {Name: "add_module", Code: 0x31, Timeout: ControlClass},
		OpAddCable:     {Name: "add_cable", Code: 0x32, Timeout: ControlClass},
		OpEndUpload:    {Name: "end_upload", Code: 0x33, Timeout: TransferClass},
		OpParamChanged: {Name: "param_changed", Code: 0x40, Event: true},
	})
	if err != nil {
		panic(err)
	}
	return t
}
