// Package rplidar drives an RPLIDAR A1-class rotating range sensor over a
// serial port: request framing, response descriptors, info/health decoding,
// motor control and the 5-byte standard scan measurement.
package rplidar

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/rangescan/internal/scan"
)

// Request framing.
const (
	SyncByte  byte = 0xA5
	SyncByte2 byte = 0x5A
)

// Commands.
const (
	CmdStop      byte = 0x25
	CmdReset     byte = 0x40
	CmdScan      byte = 0x20
	CmdGetInfo   byte = 0x50
	CmdGetHealth byte = 0x52
	CmdSetPWM    byte = 0xF0
)

// Response data types.
const (
	TypeInfo   byte = 0x04
	TypeHealth byte = 0x06
	TypeScan   byte = 0x81
)

// Send modes carried in the top two bits of the descriptor length word.
const (
	ModeSingle byte = 0
	ModeMulti  byte = 1
)

// Fixed sizes on the wire.
const (
	DescriptorLen  = 7
	InfoLen        = 20
	HealthLen      = 3
	MeasurementLen = 5
)

// DefaultMotorPWM is the duty cycle that spins an A1 at roughly 10 Hz.
const DefaultMotorPWM = 660

// Errors returned by the decoders.
var (
	ErrBadDescriptor  = errors.New("bad response descriptor")
	ErrBadMeasurement = errors.New("bad measurement")
)

// EncodeRequest frames cmd and an optional payload. Requests with a payload
// carry its length and a trailing XOR checksum over every preceding byte.
func EncodeRequest(cmd byte, payload []byte) []byte {
	if len(payload) == 0 {
		return []byte{SyncByte, cmd}
	}
	out := make([]byte, 0, len(payload)+4)
	out = append(out, SyncByte, cmd, byte(len(payload)))
	out = append(out, payload...)

	var checksum byte
	for _, b := range out {
		checksum ^= b
	}
	return append(out, checksum)
}

// EncodeSetPWM builds a SET_PWM request.
func EncodeSetPWM(pwm int) []byte {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(pwm))
	return EncodeRequest(CmdSetPWM, payload)
}

// Descriptor is the 7-byte header that precedes every response.
type Descriptor struct {
	Size int
	Mode byte
	Type byte
}

// ParseDescriptor decodes a response descriptor.
func ParseDescriptor(b []byte) (Descriptor, error) {
	if len(b) != DescriptorLen {
		return Descriptor{}, fmt.Errorf("%w: length %d", ErrBadDescriptor, len(b))
	}
	if b[0] != SyncByte || b[1] != SyncByte2 {
		return Descriptor{}, fmt.Errorf("%w: sync bytes %#02x %#02x", ErrBadDescriptor, b[0], b[1])
	}
	word := binary.LittleEndian.Uint32(b[2:6])
	return Descriptor{
		Size: int(word & 0x3FFFFFFF),
		Mode: byte(word >> 30),
		Type: b[6],
	}, nil
}

// Expect checks that d describes the response a command should produce.
func (d Descriptor) Expect(size int, mode, typ byte) error {
	if d.Size != size || d.Mode != mode || d.Type != typ {
		return fmt.Errorf("%w: got size=%d mode=%d type=%#02x, want size=%d mode=%d type=%#02x",
			ErrBadDescriptor, d.Size, d.Mode, d.Type, size, mode, typ)
	}
	return nil
}

// Info is the decoded GET_INFO payload.
type Info struct {
	Model    int
	Firmware scan.FirmwareVersion
	Hardware int
	Serial   string
}

// ParseInfo decodes a GET_INFO payload.
func ParseInfo(b []byte) (Info, error) {
	if len(b) != InfoLen {
		return Info{}, fmt.Errorf("info payload: got %d bytes, want %d", len(b), InfoLen)
	}
	return Info{
		Model:    int(b[0]),
		Firmware: scan.FirmwareVersion{Major: int(b[2]), Minor: int(b[1])},
		Hardware: int(b[3]),
		Serial:   strings.ToUpper(hex.EncodeToString(b[4:20])),
	}, nil
}

// ParseHealth decodes a GET_HEALTH payload into a normalised status and the
// device error code.
func ParseHealth(b []byte) (scan.HealthStatus, int, error) {
	if len(b) != HealthLen {
		return scan.HealthUnknown, 0, fmt.Errorf("health payload: got %d bytes, want %d", len(b), HealthLen)
	}
	code := int(binary.LittleEndian.Uint16(b[1:3]))
	switch b[0] {
	case 0:
		return scan.HealthGood, code, nil
	case 1:
		return scan.HealthWarning, code, nil
	case 2:
		return scan.HealthError, code, nil
	default:
		return scan.HealthUnknown, code, nil
	}
}

// Diagnostics merges info and health into the normalised snapshot.
func Diagnostics(info Info, status scan.HealthStatus, code int) scan.Diagnostics {
	return scan.Diagnostics{
		Model:     strconv.Itoa(info.Model),
		Firmware:  info.Firmware,
		Hardware:  info.Hardware,
		Serial:    info.Serial,
		Status:    status,
		ErrorCode: code,
	}
}

// DecodeMeasurement decodes one standard scan node.
//
//	b0: quality(6) | !S | S
//	b1: angle[6:0] | C
//	b2: angle[14:7]
//	b3-b4: distance q2, little endian
func DecodeMeasurement(b []byte) (scan.Reading, error) {
	if len(b) != MeasurementLen {
		return scan.Reading{}, fmt.Errorf("%w: length %d", ErrBadMeasurement, len(b))
	}
	newScan := b[0]&0x1 == 1
	inverse := (b[0]>>1)&0x1 == 1
	if newScan == inverse {
		return scan.Reading{}, fmt.Errorf("%w: start flag mismatch", ErrBadMeasurement)
	}
	if b[1]&0x1 != 1 {
		return scan.Reading{}, fmt.Errorf("%w: check bit not set", ErrBadMeasurement)
	}
	angle := float64(int(b[1])>>1|int(b[2])<<7) / 64.0
	dist := float64(int(b[3])|int(b[4])<<8) / 4.0
	return scan.Reading{
		NewSweep:   newScan,
		Quality:    int(b[0] >> 2),
		AngleDeg:   angle,
		DistanceMM: dist,
		Valid:      true,
	}, nil
}

// EncodeMeasurement is the inverse of DecodeMeasurement. Simulated sensors
// and tests use it to produce wire data.
func EncodeMeasurement(r scan.Reading) []byte {
	b := make([]byte, MeasurementLen)
	q := byte(r.Quality&0x3F) << 2
	if r.NewSweep {
		b[0] = q | 0x1
	} else {
		b[0] = q | 0x2
	}
	angle := int(r.AngleDeg*64.0 + 0.5)
	b[1] = byte(angle<<1)&0xFE | 0x1
	b[2] = byte(angle >> 7)
	dist := int(r.DistanceMM*4.0 + 0.5)
	b[3] = byte(dist)
	b[4] = byte(dist >> 8)
	return b
}

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.ToLower(s))
}

// EncodeDescriptor builds a response descriptor.
func EncodeDescriptor(d Descriptor) []byte {
	b := make([]byte, DescriptorLen)
	b[0], b[1] = SyncByte, SyncByte2
	binary.LittleEndian.PutUint32(b[2:6], uint32(d.Size)&0x3FFFFFFF|uint32(d.Mode)<<30)
	b[6] = d.Type
	return b
}
