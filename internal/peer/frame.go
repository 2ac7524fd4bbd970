package peer

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Op is the collective operation a frame belongs to.
type Op uint8

const (
	OpHello Op = iota + 1
	OpBroadcast
	OpScatter
	OpGather
	OpBarrier
	OpDisconnect
)

func (o Op) String() string {
	switch o {
	case OpHello:
		return "hello"
	case OpBroadcast:
		return "broadcast"
	case OpScatter:
		return "scatter"
	case OpGather:
		return "gather"
	case OpBarrier:
		return "barrier"
	case OpDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Kind is the element type of a frame payload.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt32
	KindFloat64
)

// Size is the encoded size of one element.
func (k Kind) Size() int {
	switch k {
	case KindInt32:
		return 4
	case KindFloat64:
		return 8
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt32:
		return "int32"
	case KindFloat64:
		return "float64"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

const (
	headerSize = 8
	// maxCount bounds the payload of a single frame (512 MiB of float64).
	maxCount = 1 << 26
)

// Frame is one message of the wire protocol:
//
//	op u8 | kind u8 | reserved u16 | count u32 | payload
//
// All integers are little-endian; the payload holds count elements of kind.
type Frame struct {
	Op      Op
	Kind    Kind
	Count   uint32
	Payload []byte
}

func (f Frame) String() string {
	if f.Kind == KindNone {
		return f.Op.String()
	}
	return describe(f.Op, f.Kind, int(f.Count))
}

func describe(op Op, kind Kind, n int) string {
	return fmt.Sprintf("%s %s[%d]", op, kind, n)
}

func (f Frame) validate() error {
	if f.Op < OpHello || f.Op > OpDisconnect {
		return fmt.Errorf("unknown frame op %d", uint8(f.Op))
	}
	if f.Kind > KindFloat64 {
		return fmt.Errorf("unknown frame kind %d", uint8(f.Kind))
	}
	if f.Count > maxCount {
		return fmt.Errorf("frame count %d exceeds limit %d", f.Count, maxCount)
	}
	if want := int(f.Count) * f.Kind.Size(); len(f.Payload) != want {
		return fmt.Errorf("%s payload is %d bytes, want %d", f, len(f.Payload), want)
	}
	return nil
}

func (f Frame) header() [headerSize]byte {
	var h [headerSize]byte
	h[0] = byte(f.Op)
	h[1] = byte(f.Kind)
	binary.LittleEndian.PutUint32(h[4:], f.Count)
	return h
}

// MarshalBinary encodes the frame.
func (f Frame) MarshalBinary() ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	h := f.header()
	out := make([]byte, 0, headerSize+len(f.Payload))
	out = append(out, h[:]...)
	return append(out, f.Payload...), nil
}

// UnmarshalBinary decodes a complete frame.
func (f *Frame) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize {
		return fmt.Errorf("short frame: %d bytes", len(b))
	}
	*f = Frame{
		Op:      Op(b[0]),
		Kind:    Kind(b[1]),
		Count:   binary.LittleEndian.Uint32(b[4:]),
		Payload: append([]byte(nil), b[headerSize:]...),
	}
	return f.validate()
}

// writeFrame writes f to w.
func writeFrame(w io.Writer, f Frame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// readFrame reads one frame from r.
func readFrame(r io.Reader) (Frame, error) {
	var h [headerSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{Op: Op(h[0]), Kind: Kind(h[1]), Count: binary.LittleEndian.Uint32(h[4:])}
	if f.Op < OpHello || f.Op > OpDisconnect || f.Kind > KindFloat64 || f.Count > maxCount {
		return Frame{}, fmt.Errorf("malformed frame header % x", h)
	}
	f.Payload = make([]byte, int(f.Count)*f.Kind.Size())
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return f, nil
}

// Number is an element type the collectives can carry.
type Number interface {
	int32 | float64
}

func kindOf[T Number]() Kind {
	var zero T
	if _, ok := any(zero).(int32); ok {
		return KindInt32
	}
	return KindFloat64
}

// Encode builds a frame of op carrying vals.
func Encode[T Number](op Op, vals []T) Frame {
	kind := kindOf[T]()
	buf := make([]byte, len(vals)*kind.Size())
	for i, v := range vals {
		switch x := any(v).(type) {
		case int32:
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(x))
		case float64:
			binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
		}
	}
	return Frame{Op: op, Kind: kind, Count: uint32(len(vals)), Payload: buf}
}

func decode[T Number](f Frame) []T {
	out := make([]T, f.Count)
	for i := range out {
		switch p := any(&out[i]).(type) {
		case *int32:
			*p = int32(binary.LittleEndian.Uint32(f.Payload[4*i:]))
		case *float64:
			*p = math.Float64frombits(binary.LittleEndian.Uint64(f.Payload[8*i:]))
		}
	}
	return out
}

// Decode returns the payload of f as T values.
func Decode[T Number](f Frame) ([]T, error) {
	if kind := kindOf[T](); f.Kind != kind {
		return nil, fmt.Errorf("%s carries %s, not %s", f, f.Kind, kind)
	}
	return decode[T](f), nil
}
