package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// Payload is one element of a packet body. The set of implementations
// is closed: senders compose bodies from these values and receivers
// decode elements by the type expected for the packet's command.
type Payload interface {
	appendTo(dst []byte) ([]byte, error)
}

const maxVarString = 255

// appendVarString appends a one-byte length followed by the string.
// Longer strings are silently truncated to 255 bytes.
func appendVarString(dst []byte, s string) []byte {
	if len(s) > maxVarString {
		s = s[:maxVarString]
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...)
}

// appendVariant appends a type|version|length envelope around body.
func appendVariant(dst []byte, typ, version uint8, body []byte) ([]byte, error) {
	if len(body) > math.MaxUint8 {
		return nil, fmt.Errorf("variant %d body is %d bytes: %w", typ, len(body), ErrPayloadTooLarge)
	}
	dst = append(dst, typ, version, byte(len(body)))
	return append(dst, body...), nil
}

// deci converts a value to tenths, rounding half away from zero.
// Out-of-range values saturate.
func deci(v float64) int16 {
	d := math.Round(v * 10)
	switch {
	case d > math.MaxInt16:
		return math.MaxInt16
	case d < math.MinInt16:
		return math.MinInt16
	}
	return int16(d)
}

func undeci(v int16) float64 {
	return float64(v) / 10
}

// Timestamp is a Unix-seconds value carried as a raw big-endian uint32
// with no envelope.
type Timestamp uint32

func (t Timestamp) appendTo(dst []byte) ([]byte, error) {
	return binary.BigEndian.AppendUint32(dst, uint32(t)), nil
}

func DecodeTimestamp(r *Reader) (Timestamp, error) {
	v, err := r.Uint32()
	if err != nil {
		return 0, fmt.Errorf("timestamp: %w", err)
	}
	return Timestamp(v), nil
}

// Location payload types. Locations carry a one-byte type tag and a
// fixed shape per type, with no length envelope.
const (
	locationGNSS = 1
	locationCell = 2
)

// GNSSLocation is a satellite fix.
type GNSSLocation struct {
	Lat float32
	Lon float32
}

func (l GNSSLocation) appendTo(dst []byte) ([]byte, error) {
	dst = append(dst, locationGNSS)
	dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(l.Lat))
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(l.Lon)), nil
}

// CellLocation identifies the serving cell instead of a coordinate
// fix.
type CellLocation struct {
	MCC    string
	MNC    string
	LAC    string
	CellID string
	RSSI   int8
}

func (l CellLocation) appendTo(dst []byte) ([]byte, error) {
	dst = append(dst, locationCell)
	dst = appendVarString(dst, l.MCC)
	dst = appendVarString(dst, l.MNC)
	dst = appendVarString(dst, l.LAC)
	dst = appendVarString(dst, l.CellID)
	return append(dst, byte(l.RSSI)), nil
}

// DecodeLocation reads either location shape, switching on the type
// tag.
func DecodeLocation(r *Reader) (Payload, error) {
	tag, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("location type: %w", err)
	}
	switch tag {
	case locationGNSS:
		var l GNSSLocation
		if l.Lat, err = r.Float32(); err != nil {
			return nil, fmt.Errorf("location latitude: %w", err)
		}
		if l.Lon, err = r.Float32(); err != nil {
			return nil, fmt.Errorf("location longitude: %w", err)
		}
		return l, nil
	case locationCell:
		var l CellLocation
		for _, f := range []*string{&l.MCC, &l.MNC, &l.LAC, &l.CellID} {
			if *f, err = r.VarString(); err != nil {
				return nil, fmt.Errorf("cell location: %w", err)
			}
		}
		if l.RSSI, err = r.Int8(); err != nil {
			return nil, fmt.Errorf("cell location rssi: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("location: unknown type %d", tag)
	}
}

// variantVersion is the envelope version this build emits and accepts.
const variantVersion = 1

// Sensor reading types. Readings carry a type|version|length envelope
// so receivers can skip types they do not know.
const (
	sensorNull   = 0
	sensorBasic  = 1
	sensorMulti  = 2
	sensorMotion = 3
)

// NullReading is a sensor element with no data, sent when a device has
// nothing to report in a cycle.
type NullReading struct{}

func (NullReading) appendTo(dst []byte) ([]byte, error) {
	return appendVariant(dst, sensorNull, variantVersion, nil)
}

// BasicReading is a single temperature sample with battery and signal
// state.
type BasicReading struct {
	Temperature float64 // degrees C, tenths resolution
	Battery     uint8   // percent
	RSSI        uint8
}

func (b BasicReading) appendTo(dst []byte) ([]byte, error) {
	body := binary.BigEndian.AppendUint16(make([]byte, 0, 4), uint16(deci(b.Temperature)))
	body = append(body, b.Battery, b.RSSI)
	return appendVariant(dst, sensorBasic, variantVersion, body)
}

// TempHumidity is one sample within a MultiReading.
type TempHumidity struct {
	Temperature float64 // degrees C, tenths resolution
	Humidity    float64 // percent RH, tenths resolution
}

// MultiReading carries a series of samples taken at a fixed interval,
// letting one report cover a whole cycle of readings.
type MultiReading struct {
	Battery      uint8
	RSSI         uint8
	FirstReading uint32 // Unix seconds of the oldest sample
	Interval     uint16 // seconds between samples
	Records      []TempHumidity
}

func (m MultiReading) appendTo(dst []byte) ([]byte, error) {
	body := make([]byte, 0, 9+4*len(m.Records))
	body = append(body, m.Battery, m.RSSI)
	body = binary.BigEndian.AppendUint32(body, m.FirstReading)
	body = binary.BigEndian.AppendUint16(body, m.Interval)
	if len(m.Records) > math.MaxUint8 {
		return nil, fmt.Errorf("multi reading has %d records: %w", len(m.Records), ErrPayloadTooLarge)
	}
	body = append(body, byte(len(m.Records)))
	for _, rec := range m.Records {
		body = binary.BigEndian.AppendUint16(body, uint16(deci(rec.Temperature)))
		body = binary.BigEndian.AppendUint16(body, uint16(deci(rec.Humidity)))
	}
	return appendVariant(dst, sensorMulti, variantVersion, body)
}

// MotionSummary reports accumulated movement over a window.
type MotionSummary struct {
	WindowStart   uint32 // Unix seconds
	WindowSeconds uint16
	Steps         uint16
}

func (m MotionSummary) appendTo(dst []byte) ([]byte, error) {
	body := binary.BigEndian.AppendUint32(make([]byte, 0, 8), m.WindowStart)
	body = binary.BigEndian.AppendUint16(body, m.WindowSeconds)
	body = binary.BigEndian.AppendUint16(body, m.Steps)
	return appendVariant(dst, sensorMotion, variantVersion, body)
}

// UnknownReading preserves a sensor element whose type or version this
// build does not understand. The envelope makes it skippable.
type UnknownReading struct {
	Type    uint8
	Version uint8
	Data    []byte
}

func (u UnknownReading) appendTo(dst []byte) ([]byte, error) {
	return appendVariant(dst, u.Type, u.Version, u.Data)
}

// DecodeSensorReading reads one enveloped sensor element. Unknown
// types and versions decode as UnknownReading so the surrounding
// packet still parses.
func DecodeSensorReading(r *Reader) (Payload, error) {
	typ, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("sensor type: %w", err)
	}
	version, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("sensor version: %w", err)
	}
	length, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("sensor length: %w", err)
	}
	body, err := r.Bytes(int(length))
	if err != nil {
		return nil, fmt.Errorf("sensor body: %w", err)
	}

	if version != variantVersion {
		return UnknownReading{Type: typ, Version: version, Data: slices.Clone(body)}, nil
	}

	br := NewReader(body)
	switch typ {
	case sensorNull:
		return NullReading{}, nil

	case sensorBasic:
		var b BasicReading
		t, err := br.Int16()
		if err != nil {
			return nil, fmt.Errorf("basic reading: %w", err)
		}
		b.Temperature = undeci(t)
		if b.Battery, err = br.Uint8(); err != nil {
			return nil, fmt.Errorf("basic reading: %w", err)
		}
		if b.RSSI, err = br.Uint8(); err != nil {
			return nil, fmt.Errorf("basic reading: %w", err)
		}
		return b, nil

	case sensorMulti:
		var m MultiReading
		if m.Battery, err = br.Uint8(); err != nil {
			return nil, fmt.Errorf("multi reading: %w", err)
		}
		if m.RSSI, err = br.Uint8(); err != nil {
			return nil, fmt.Errorf("multi reading: %w", err)
		}
		if m.FirstReading, err = br.Uint32(); err != nil {
			return nil, fmt.Errorf("multi reading: %w", err)
		}
		if m.Interval, err = br.Uint16(); err != nil {
			return nil, fmt.Errorf("multi reading: %w", err)
		}
		count, err := br.Uint8()
		if err != nil {
			return nil, fmt.Errorf("multi reading: %w", err)
		}
		m.Records = make([]TempHumidity, count)
		for i := range m.Records {
			t, err := br.Int16()
			if err != nil {
				return nil, fmt.Errorf("multi reading record %d: %w", i, err)
			}
			h, err := br.Int16()
			if err != nil {
				return nil, fmt.Errorf("multi reading record %d: %w", i, err)
			}
			m.Records[i] = TempHumidity{Temperature: undeci(t), Humidity: undeci(h)}
		}
		return m, nil

	case sensorMotion:
		var m MotionSummary
		if m.WindowStart, err = br.Uint32(); err != nil {
			return nil, fmt.Errorf("motion summary: %w", err)
		}
		if m.WindowSeconds, err = br.Uint16(); err != nil {
			return nil, fmt.Errorf("motion summary: %w", err)
		}
		if m.Steps, err = br.Uint16(); err != nil {
			return nil, fmt.Errorf("motion summary: %w", err)
		}
		return m, nil

	default:
		return UnknownReading{Type: typ, Version: version, Data: slices.Clone(body)}, nil
	}
}

// keyValueTag is the envelope type for configuration pair lists.
const keyValueTag = 1

// KeyValue is one configuration pair.
type KeyValue struct {
	Key   string
	Value string
}

// KeyValues is the body of configuration reads, reports, and writes.
type KeyValues []KeyValue

func (kv KeyValues) appendTo(dst []byte) ([]byte, error) {
	if len(kv) > math.MaxUint8 {
		return nil, fmt.Errorf("key values has %d pairs: %w", len(kv), ErrPayloadTooLarge)
	}
	body := make([]byte, 0, 32)
	body = append(body, byte(len(kv)))
	for _, p := range kv {
		body = appendVarString(body, p.Key)
		body = appendVarString(body, p.Value)
	}
	return appendVariant(dst, keyValueTag, variantVersion, body)
}

// DecodeKeyValues reads a configuration pair list.
func DecodeKeyValues(r *Reader) (KeyValues, error) {
	typ, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("key values type: %w", err)
	}
	if typ != keyValueTag {
		return nil, fmt.Errorf("key values: unexpected type %d", typ)
	}
	if _, err := r.Uint8(); err != nil {
		return nil, fmt.Errorf("key values version: %w", err)
	}
	length, err := r.Uint8()
	if err != nil {
		return nil, fmt.Errorf("key values length: %w", err)
	}
	body, err := r.Bytes(int(length))
	if err != nil {
		return nil, fmt.Errorf("key values body: %w", err)
	}

	br := NewReader(body)
	count, err := br.Uint8()
	if err != nil {
		return nil, fmt.Errorf("key values count: %w", err)
	}
	kv := make(KeyValues, 0, count)
	for i := 0; i < int(count); i++ {
		key, err := br.VarString()
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		value, err := br.VarString()
		if err != nil {
			return nil, fmt.Errorf("value for %q: %w", key, err)
		}
		kv = append(kv, KeyValue{Key: key, Value: value})
	}
	return kv, nil
}

// PowerOnInfo is the body of the boot report: the customer code as raw
// bytes followed by the device's identity strings.
type PowerOnInfo struct {
	CustomerID [4]byte
	Software   string
	Firmware   string
	MCC        string
	MNC        string
	RAT        string
}

func (p PowerOnInfo) appendTo(dst []byte) ([]byte, error) {
	dst = append(dst, p.CustomerID[:]...)
	dst = appendVarString(dst, p.Software)
	dst = appendVarString(dst, p.Firmware)
	dst = appendVarString(dst, p.MCC)
	dst = appendVarString(dst, p.MNC)
	return appendVarString(dst, p.RAT), nil
}

// DecodePowerOnInfo reads a boot report body.
func DecodePowerOnInfo(r *Reader) (PowerOnInfo, error) {
	var p PowerOnInfo
	id, err := r.Bytes(len(p.CustomerID))
	if err != nil {
		return PowerOnInfo{}, fmt.Errorf("customer id: %w", err)
	}
	copy(p.CustomerID[:], id)
	for _, f := range []*string{&p.Software, &p.Firmware, &p.MCC, &p.MNC, &p.RAT} {
		if *f, err = r.VarString(); err != nil {
			return PowerOnInfo{}, fmt.Errorf("power-on info: %w", err)
		}
	}
	return p, nil
}
