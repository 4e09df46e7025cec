// Package modbus implements the fixed-shape Modbus-RTU request/response
// codec used by the soil probe: one read-holding-registers command frame and
// one fixed-length response carrying big-endian scaled registers.
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrLengthMismatch is returned when a response does not match the
	// configured frame length.
	ErrLengthMismatch = errors.New("modbus: response length mismatch")

	// ErrBadFieldDef is returned when a register mapping does not fit the
	// configured frame.
	ErrBadFieldDef = errors.New("modbus: invalid field definition")
)

// Request describes a read-holding-registers request frame.
type Request struct {
	SlaveID       byte
	FunctionCode  byte
	StartRegister uint16
	RegisterCount uint16
}

// Encode renders the request as an RTU frame with the CRC trailer appended.
func (r Request) Encode() []byte {
	frame := make([]byte, 6, 8)
	frame[0] = r.SlaveID
	frame[1] = r.FunctionCode
	binary.BigEndian.PutUint16(frame[2:4], r.StartRegister)
	binary.BigEndian.PutUint16(frame[4:6], r.RegisterCount)
	return AppendCRC(frame)
}

// FieldDef maps one register in the response payload to a named physical
// quantity. Offsets and scales are sensor-model specific and come from
// configuration; the codec's only hard-coded assumption is the frame shape.
type FieldDef struct {
	Name   string  `yaml:"name"`
	Offset int     `yaml:"offset"`
	Scale  float64 `yaml:"scale"`
}

// Register names of the 7-quantity soil probe.
const (
	FieldMoisture     = "moisture"
	FieldTemperature  = "temperature"
	FieldConductivity = "conductivity"
	FieldPH           = "ph"
	FieldNitrogen     = "nitrogen"
	FieldPhosphorus   = "phosphorus"
	FieldPotassium    = "potassium"
)

// DefaultFields returns the factory register map: seven big-endian registers
// starting at byte 3, each carrying one one-decimal quantity.
func DefaultFields() []FieldDef {
	return []FieldDef{
		{Name: FieldMoisture, Offset: 3, Scale: 10},
		{Name: FieldTemperature, Offset: 5, Scale: 10},
		{Name: FieldConductivity, Offset: 7, Scale: 10},
		{Name: FieldPH, Offset: 9, Scale: 10},
		{Name: FieldNitrogen, Offset: 11, Scale: 10},
		{Name: FieldPhosphorus, Offset: 13, Scale: 10},
		{Name: FieldPotassium, Offset: 15, Scale: 10},
	}
}

// Frame is a decoded response with its checksum verdict.
type Frame struct {
	Fields   map[string]float64
	CRCValid bool
	Length   int
}

// Codec validates and decodes fixed-length RTU responses.
type Codec struct {
	responseLength int
	fields         []FieldDef
}

// NewCodec builds a codec for frames of responseLength bytes. Every field
// must fit inside the payload, leaving room for the two-byte CRC trailer.
func NewCodec(responseLength int, fields []FieldDef) (*Codec, error) {
	if responseLength <= 2 {
		return nil, fmt.Errorf("%w: response length %d leaves no payload", ErrBadFieldDef, responseLength)
	}
	for _, f := range fields {
		if f.Offset < 0 || f.Offset+2 > responseLength-2 {
			return nil, fmt.Errorf("%w: field %q at offset %d does not fit a %d byte frame", ErrBadFieldDef, f.Name, f.Offset, responseLength)
		}
		if f.Scale == 0 {
			return nil, fmt.Errorf("%w: field %q has zero scale", ErrBadFieldDef, f.Name)
		}
	}
	return &Codec{responseLength: responseLength, fields: fields}, nil
}

// ResponseLength returns the expected frame length in bytes.
func (c *Codec) ResponseLength() int {
	return c.responseLength
}

// Decode validates and extracts the registers of a response frame.
//
// A frame of the wrong length fails with ErrLengthMismatch and yields no
// Frame. A frame of the right length with a bad checksum still decodes; it is
// flagged CRCValid=false instead of aborting, so diagnostic visibility is
// preserved.
func (c *Codec) Decode(frame []byte) (*Frame, error) {
	if len(frame) != c.responseLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrLengthMismatch, c.responseLength, len(frame))
	}

	payload := frame[:len(frame)-2]
	trailer := binary.LittleEndian.Uint16(frame[len(frame)-2:])

	out := &Frame{
		Fields:   make(map[string]float64, len(c.fields)),
		CRCValid: CRC16(payload) == trailer,
		Length:   len(frame),
	}
	for _, f := range c.fields {
		raw := binary.BigEndian.Uint16(frame[f.Offset : f.Offset+2])
		out.Fields[f.Name] = float64(raw) / f.Scale
	}
	return out, nil
}
