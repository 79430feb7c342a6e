// services/bridge/wire.go
package bridge

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"pca9685-go/bus"
)

// Frame kinds. Every frame is [kind, len_hi, len_lo, payload...] with a CBOR
// payload.
const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameReq   byte = 0x20
	frameReply byte = 0x21
	frameClose byte = 0x7f

	maxFrame = 0xFFFF
)

type Frame struct {
	Type    byte
	Payload []byte
}

// wireReq asks the local bus a question; the answer comes back as a wireReply
// with the same ID.
type wireReq struct {
	ID      uint32 `cbor:"1,keyasint"`
	Topic   []any  `cbor:"2,keyasint"`
	Payload any    `cbor:"3,keyasint,omitempty"`
}

type wireReply struct {
	ID      uint32 `cbor:"1,keyasint"`
	Payload any    `cbor:"3,keyasint,omitempty"`
	Error   string `cbor:"4,keyasint,omitempty"`
}

type wirePub struct {
	Topic    []any `cbor:"2,keyasint"`
	Payload  any   `cbor:"3,keyasint,omitempty"`
	Retained bool  `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: cbor encoder: %v", err))
	}
	// String-keyed maps so decoded payloads round-trip through DecodeJSON.
	decMode, err = cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyQuiet,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bridge: cbor decoder: %v", err))
	}
}

// ---------------- framing ----------------

type framedReader struct{ r io.Reader }

type framedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: hdr[0], Payload: buf}, nil
}

// WriteFrame sends header and payload in one Write so concurrent writers
// never interleave.
func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > maxFrame {
		return fmt.Errorf("frame too large: %d", len(f.Payload))
	}
	b := make([]byte, 3, 3+len(f.Payload))
	b[0], b[1], b[2] = f.Type, byte(len(f.Payload)>>8), byte(len(f.Payload))
	b = append(b, f.Payload...)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(b)
	return err
}

// writeMsg encodes v and frames it as typ.
func (fw *framedWriter) writeMsg(typ byte, v any) error {
	p, err := encMode.Marshal(v)
	if err != nil {
		return err
	}
	return fw.WriteFrame(Frame{Type: typ, Payload: p})
}

// ---------------- topics ----------------

// topicToWire flattens a topic into CBOR-friendly tokens.
func topicToWire(t bus.Topic) []any {
	out := make([]any, len(t))
	for i, tok := range t {
		switch v := tok.(type) {
		case string, int:
			out[i] = v
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}

// topicFromWire restores ints, which CBOR decodes as 64-bit values.
func topicFromWire(toks []any) (bus.Topic, error) {
	out := make(bus.Topic, len(toks))
	for i, tok := range toks {
		switch v := tok.(type) {
		case string:
			out[i] = v
		case uint64:
			out[i] = int(v)
		case int64:
			out[i] = int(v)
		default:
			return nil, fmt.Errorf("topic token %d: unsupported type %T", i, tok)
		}
	}
	return out, nil
}

// ParseFilter turns "hal/capability/pwm/0/value" into a topic, with numeric
// segments as ints.
func ParseFilter(s string) bus.Topic {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	out := make(bus.Topic, len(parts))
	for i, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			out[i] = n
		} else {
			out[i] = p
		}
	}
	return out
}
