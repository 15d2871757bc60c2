// Package wire implements the binary packet format exchanged with the
// collector over UDP. Packets carry big-endian integers, a fixed
// header, and a body composed of payload elements.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrShortPayload is returned when decoding runs past the end of
	// the data.
	ErrShortPayload = errors.New("wire: short payload")
	// ErrPayloadTooLarge is returned when a payload element exceeds its
	// one-byte length field. It indicates a producer bug, not a
	// recoverable condition.
	ErrPayloadTooLarge = errors.New("wire: payload too large")
)

// Version is the protocol version carried in every header.
const Version = 1

// HeaderLen is the encoded size of a packet header.
const HeaderLen = 13

// Command identifies a packet type. Single-letter commands pad the
// second byte with zero.
type Command [2]byte

var (
	// CmdPowerOn is the boot report sent once after startup.
	CmdPowerOn = Command{'P', '+'}
	// CmdTelemetry is the periodic sensor report.
	CmdTelemetry = Command{'T', 0}
	// CmdMotion is the periodic motion summary.
	CmdMotion = Command{'M', 0}
	// CmdConfig is the configuration report; inbound it requests one.
	CmdConfig = Command{'C', 0}
	// CmdConfigWrite is an inbound configuration update.
	CmdConfigWrite = Command{'W', 0}
	// CmdAck is the inbound acknowledgment of a device packet.
	CmdAck = Command{'A', 0}
)

func (c Command) String() string {
	if c[1] == 0 {
		return string(c[:1])
	}
	return string(c[:])
}

// Header is the fixed preamble of every packet.
type Header struct {
	Version  uint8
	Command  Command
	TxnID    uint16
	DeviceID DeviceID
}

// EncodePacket serializes a header followed by the payload elements in
// order.
func EncodePacket(h Header, payloads ...Payload) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, h.Version, h.Command[0], h.Command[1])
	buf = binary.BigEndian.AppendUint16(buf, h.TxnID)
	buf = append(buf, h.DeviceID[:]...)

	var err error
	for _, p := range payloads {
		if buf, err = p.appendTo(buf); err != nil {
			return nil, fmt.Errorf("encode %s packet: %w", h.Command, err)
		}
	}
	return buf, nil
}

// DecodeHeader splits a packet into its header and body.
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderLen {
		return Header{}, nil, fmt.Errorf("packet header: %w", ErrShortPayload)
	}
	h := Header{
		Version: data[0],
		Command: Command{data[1], data[2]},
		TxnID:   binary.BigEndian.Uint16(data[3:5]),
	}
	copy(h.DeviceID[:], data[5:HeaderLen])
	return h, data[HeaderLen:], nil
}

// DeviceID is a packed-decimal device identifier: two digits per byte,
// high nibble first, zero bytes padding on the right. An odd number of
// digits gets a leading zero digit; identifiers longer than sixteen
// digits are truncated.
type DeviceID [8]byte

// ParseDeviceID packs the decimal digits of s. Non-digit characters
// are dropped.
func ParseDeviceID(s string) DeviceID {
	digits := make([]byte, 0, len(s)+1)
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i]-'0')
		}
	}
	if len(digits)%2 == 1 {
		digits = append([]byte{0}, digits...)
	}
	if len(digits) > 2*len(DeviceID{}) {
		digits = digits[:2*len(DeviceID{})]
	}

	var id DeviceID
	for i := 0; i+1 < len(digits); i += 2 {
		id[i/2] = digits[i]<<4 | digits[i+1]
	}
	return id
}

// String renders the identifier's digits with the right-hand zero
// padding removed. A single leading zero digit is dropped as packing
// padding, so identifiers that genuinely begin or end with zeros do
// not render exactly; the packed form is authoritative.
func (id DeviceID) String() string {
	n := len(id)
	for n > 0 && id[n-1] == 0 {
		n--
	}
	if n == 0 {
		return "0"
	}

	var b strings.Builder
	b.Grow(2 * n)
	for i := 0; i < n; i++ {
		b.WriteByte('0' + id[i]>>4)
		b.WriteByte('0' + id[i]&0x0f)
	}
	s := b.String()
	if s[0] == '0' {
		s = s[1:]
	}
	return s
}
