package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/g2link/patch"
	"github.com/ardnew/g2link/pkg"
)

// Maximum string length on the wire.
const maxString = 255

// PatchInfo is the body of a patch info response.
type PatchInfo struct {
	Version   uint8
	Variation uint8
	Name      string
}

// ParamValue is the body of a set-param command and a param-changed event.
type ParamValue struct {
	Module    patch.ModuleID
	Param     uint8
	Value     int
	Variation uint8
}

// =============================================================================
// Encoding
// =============================================================================

type writer struct {
	b   []byte
	err error
}

func (w *writer) byte(v uint8) { w.b = append(w.b, v) }

func (w *writer) uint16(v uint16) { w.b = binary.BigEndian.AppendUint16(w.b, v) }

func (w *writer) value(v int) {
	if v < 0 || v > 0xff {
		w.fail("value %d does not fit one byte", v)
		return
	}
	w.b = append(w.b, uint8(v))
}

func (w *writer) string(s string) {
	if len(s) > maxString {
		w.fail("string of %d bytes", len(s))
		return
	}
	w.b = append(w.b, uint8(len(s)))
	w.b = append(w.b, s...)
}

func (w *writer) fail(format string, args ...any) {
	if w.err == nil {
		w.err = fmt.Errorf("%w: %s", pkg.ErrInvalidParameter, fmt.Sprintf(format, args...))
	}
}

func (w *writer) result() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.b, nil
}

// =============================================================================
// Decoding
// =============================================================================

type reader struct {
	b   []byte
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("%w: body truncated", ErrMalformed)
		return false
	}
	return true
}

func (r *reader) byte() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *reader) uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *reader) string() string {
	n := int(r.byte())
	if !r.need(n) {
		return ""
	}
	s := string(r.b[:n])
	r.b = r.b[n:]
	return s
}

// done fails if bytes remain.
func (r *reader) done() error {
	if r.err == nil && len(r.b) != 0 {
		r.err = fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.b))
	}
	return r.err
}

// =============================================================================
// Bodies
// =============================================================================

// EncodeVersion encodes a version byte: the protocol version of a hello
// body or the new patch version acknowledging an end-upload.
func EncodeVersion(version uint8) []byte {
	return []byte{version}
}

// DecodeVersion decodes a version byte.
func DecodeVersion(b []byte) (uint8, error) {
	r := reader{b: b}
	v := r.byte()
	return v, r.done()
}

// EncodeFlag encodes a one-byte boolean body.
func EncodeFlag(on bool) []byte {
	if on {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeFlag decodes a one-byte boolean body.
func DecodeFlag(b []byte) (bool, error) {
	r := reader{b: b}
	v := r.byte()
	return v != 0, r.done()
}

// EncodePatchInfo encodes a patch info response body.
func EncodePatchInfo(info PatchInfo) ([]byte, error) {
	var w writer
	w.byte(info.Version)
	w.byte(info.Variation)
	w.string(info.Name)
	return w.result()
}

// DecodePatchInfo decodes a patch info response body.
func DecodePatchInfo(b []byte) (PatchInfo, error) {
	r := reader{b: b}
	info := PatchInfo{
		Version:   r.byte(),
		Variation: r.byte(),
		Name:      r.string(),
	}
	return info, r.done()
}

// EncodeBeginUpload encodes a begin-upload command body.
func EncodeBeginUpload(variation uint8, name string) ([]byte, error) {
	var w writer
	w.byte(variation)
	w.string(name)
	return w.result()
}

// DecodeBeginUpload decodes a begin-upload command body.
func DecodeBeginUpload(b []byte) (uint8, string, error) {
	r := reader{b: b}
	variation := r.byte()
	name := r.string()
	return variation, name, r.done()
}

func (w *writer) module(m *patch.Module) {
	w.byte(uint8(m.ID))
	w.byte(uint8(m.Type))
	if len(m.Inputs) > 0xff || len(m.Outputs) > 0xff {
		w.fail("module %d has too many ports", m.ID)
		return
	}
	w.byte(uint8(len(m.Inputs)))
	w.byte(uint8(len(m.Outputs)))
	w.string(m.Name)
	for _, p := range m.Inputs {
		w.byte(uint8(p.Signal))
	}
	for _, p := range m.Outputs {
		w.byte(uint8(p.Signal))
	}
}

func (r *reader) module(cat patch.Catalog) *patch.Module {
	m := &patch.Module{
		ID:   patch.ModuleID(r.byte()),
		Type: patch.ModuleType(r.byte()),
	}
	nIn, nOut := int(r.byte()), int(r.byte())
	m.Name = r.string()
	info, known := cat.Lookup(m.Type)
	for i := range nIn {
		p := patch.Port{Index: uint8(i), Dir: patch.In, Signal: patch.Signal(r.byte())}
		if known && i < len(info.Inputs) {
			p.Name = info.Inputs[i].Name
		}
		m.Inputs = append(m.Inputs, p)
	}
	for i := range nOut {
		p := patch.Port{Index: uint8(i), Dir: patch.Out, Signal: patch.Signal(r.byte())}
		if known && i < len(info.Outputs) {
			p.Name = info.Outputs[i].Name
		}
		m.Outputs = append(m.Outputs, p)
	}
	return m
}

// EncodeModules encodes a modules response body.
func EncodeModules(mods []*patch.Module) ([]byte, error) {
	var w writer
	if len(mods) > 0xff {
		w.fail("%d modules", len(mods))
	}
	w.byte(uint8(len(mods)))
	for _, m := range mods {
		w.module(m)
	}
	return w.result()
}

// DecodeModules decodes a modules response body. Port names are filled
// from cat for known types. Parameters are not part of the record.
func DecodeModules(b []byte, cat patch.Catalog) ([]*patch.Module, error) {
	r := reader{b: b}
	n := int(r.byte())
	mods := make([]*patch.Module, 0, n)
	for range n {
		m := r.module(cat)
		if r.err != nil {
			break
		}
		mods = append(mods, m)
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return mods, nil
}

func (w *writer) params(id patch.ModuleID, params []patch.Parameter) {
	w.byte(uint8(id))
	if len(params) > 0xff {
		w.fail("module %d has %d params", id, len(params))
		return
	}
	w.byte(uint8(len(params)))
	for _, p := range params {
		w.byte(p.Index)
		w.value(p.Value)
		w.value(p.Range.Min)
		w.value(p.Range.Max)
		w.byte(uint8(p.Unit.Scaling))
		w.string(p.Unit.Name)
	}
}

func (r *reader) params(info patch.TypeInfo) (patch.ModuleID, []patch.Parameter) {
	id := patch.ModuleID(r.byte())
	n := int(r.byte())
	params := make([]patch.Parameter, 0, n)
	for range n {
		p := patch.Parameter{
			Index: r.byte(),
			Value: int(r.byte()),
			Range: patch.Range{Min: int(r.byte()), Max: int(r.byte())},
		}
		p.Unit.Scaling = patch.Scaling(r.byte())
		p.Unit.Name = r.string()
		if r.err != nil {
			break
		}
		if int(p.Index) < len(info.Params) {
			p.Name = info.Params[p.Index].Name
		}
		params = append(params, p)
	}
	return id, params
}

// EncodeParamsRequest encodes a params command body.
func EncodeParamsRequest(id patch.ModuleID) []byte {
	return []byte{uint8(id)}
}

// DecodeParamsRequest decodes a params command body.
func DecodeParamsRequest(b []byte) (patch.ModuleID, error) {
	r := reader{b: b}
	id := patch.ModuleID(r.byte())
	return id, r.done()
}

// EncodeParams encodes a params response body.
func EncodeParams(m *patch.Module) ([]byte, error) {
	var w writer
	w.params(m.ID, m.Params)
	return w.result()
}

// DecodeParams decodes a params response body. Parameter names are filled
// from info.
func DecodeParams(b []byte, info patch.TypeInfo) (patch.ModuleID, []patch.Parameter, error) {
	r := reader{b: b}
	id, params := r.params(info)
	if err := r.done(); err != nil {
		return 0, nil, err
	}
	return id, params, nil
}

// EncodeAddModule encodes an add-module command body: the module record
// followed by its parameters.
func EncodeAddModule(m *patch.Module) ([]byte, error) {
	var w writer
	w.module(m)
	w.params(m.ID, m.Params)
	return w.result()
}

// DecodeAddModule decodes an add-module command body.
func DecodeAddModule(b []byte, cat patch.Catalog) (*patch.Module, error) {
	r := reader{b: b}
	m := r.module(cat)
	info, _ := cat.Lookup(m.Type)
	id, params := r.params(info)
	if err := r.done(); err != nil {
		return nil, err
	}
	if id != m.ID {
		return nil, fmt.Errorf("%w: params for module %d in record of module %d", ErrMalformed, id, m.ID)
	}
	m.Params = params
	return m, nil
}

func (w *writer) cable(c patch.Cable) {
	w.byte(uint8(c.From.Module))
	w.byte(c.From.Index)
	w.byte(uint8(c.To.Module))
	w.byte(c.To.Index)
	w.byte(uint8(c.Color))
}

func (r *reader) cable() patch.Cable {
	var c patch.Cable
	c.From = patch.PortRef{Module: patch.ModuleID(r.byte()), Index: r.byte(), Dir: patch.Out}
	c.To = patch.PortRef{Module: patch.ModuleID(r.byte()), Index: r.byte(), Dir: patch.In}
	c.Color = patch.Color(r.byte())
	return c
}

// EncodeCables encodes a cables response body.
func EncodeCables(cables []patch.Cable) ([]byte, error) {
	var w writer
	if len(cables) > 0xffff {
		w.fail("%d cables", len(cables))
	}
	w.uint16(uint16(len(cables)))
	for _, c := range cables {
		w.cable(c)
	}
	return w.result()
}

// DecodeCables decodes a cables response body.
func DecodeCables(b []byte) ([]patch.Cable, error) {
	r := reader{b: b}
	n := int(r.uint16())
	cables := make([]patch.Cable, 0, min(n, len(b)/5))
	for range n {
		c := r.cable()
		if r.err != nil {
			break
		}
		cables = append(cables, c)
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return cables, nil
}

// EncodeCable encodes an add-cable command body.
func EncodeCable(c patch.Cable) []byte {
	var w writer
	w.cable(c)
	return w.b
}

// DecodeCable decodes an add-cable command body.
func DecodeCable(b []byte) (patch.Cable, error) {
	r := reader{b: b}
	c := r.cable()
	return c, r.done()
}

// EncodeParamValue encodes a set-param command or param-changed event body.
func EncodeParamValue(v ParamValue) ([]byte, error) {
	var w writer
	w.byte(uint8(v.Module))
	w.byte(v.Param)
	w.value(v.Value)
	w.byte(v.Variation)
	return w.result()
}

// DecodeParamValue decodes a set-param command or param-changed event body.
func DecodeParamValue(b []byte) (ParamValue, error) {
	r := reader{b: b}
	v := ParamValue{
		Module:    patch.ModuleID(r.byte()),
		Param:     r.byte(),
		Value:     int(r.byte()),
		Variation: r.byte(),
	}
	return v, r.done()
}

// EncodeValue encodes a one-byte value body, such as a set-param ack.
func EncodeValue(v int) ([]byte, error) {
	var w writer
	w.value(v)
	return w.result()
}

// DecodeValue decodes a one-byte value body.
func DecodeValue(b []byte) (int, error) {
	r := reader{b: b}
	v := int(r.byte())
	return v, r.done()
}
