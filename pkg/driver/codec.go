package driver

import (
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/net/websocket"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/api"
)

// Codec encodes frames as an {event, data} envelope.
type Codec interface {
	Name() string
	// PayloadType is the websocket frame type carrying encoded frames.
	PayloadType() byte
	Marshal(frame api.Frame) ([]byte, error)
	Unmarshal(data []byte) (api.Frame, error)
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case api.CodecJSON, "":
		return JSONCodec{}, nil
	case api.CodecCBOR:
		return CBORCodec{}, nil
	default:
		return nil, errx.With(ErrUnknownCodec, " %q", name)
	}
}

// JSONCodec carries frames in websocket text messages.
type JSONCodec struct{}

type jsonEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (JSONCodec) Name() string      { return api.CodecJSON }
func (JSONCodec) PayloadType() byte { return websocket.TextFrame }

func (JSONCodec) Marshal(frame api.Frame) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, errx.Wrap(api.ErrMalformed, err)
	}
	return json.Marshal(jsonEnvelope{Event: frame.Event(), Data: data})
}

func (JSONCodec) Unmarshal(data []byte) (api.Frame, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errx.Wrap(api.ErrMalformed, err)
	}
	return DecodeFrame(env.Event, func(v any) error {
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil
		}
		return json.Unmarshal(env.Data, v)
	})
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("driver: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("driver: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec carries frames in websocket binary messages.
type CBORCodec struct{}

type cborEnvelope struct {
	Event string          `cbor:"event"`
	Data  cbor.RawMessage `cbor:"data,omitempty"`
}

func (CBORCodec) Name() string      { return api.CodecCBOR }
func (CBORCodec) PayloadType() byte { return websocket.BinaryFrame }

func (CBORCodec) Marshal(frame api.Frame) ([]byte, error) {
	data, err := cborEnc.Marshal(frame)
	if err != nil {
		return nil, errx.Wrap(api.ErrMalformed, err)
	}
	return cborEnc.Marshal(cborEnvelope{Event: frame.Event(), Data: data})
}

func (CBORCodec) Unmarshal(data []byte) (api.Frame, error) {
	var env cborEnvelope
	if err := cborDec.Unmarshal(data, &env); err != nil {
		return nil, errx.Wrap(api.ErrMalformed, err)
	}
	return DecodeFrame(env.Event, func(v any) error {
		if len(env.Data) == 0 {
			return nil
		}
		return cborDec.Unmarshal(env.Data, v)
	})
}

// FrameCodec adapts c to websocket.Codec, sending api.Frame values and
// receiving into *api.Frame.
func FrameCodec(c Codec) websocket.Codec {
	return websocket.Codec{
		Marshal: func(v any) ([]byte, byte, error) {
			frame, ok := v.(api.Frame)
			if !ok {
				return nil, 0, errx.With(ErrNotAFrame, ": %T", v)
			}
			data, err := c.Marshal(frame)
			return data, c.PayloadType(), err
		},
		Unmarshal: func(data []byte, _ byte, v any) error {
			out, ok := v.(*api.Frame)
			if !ok {
				return errx.With(ErrNotAFrame, ": %T", v)
			}
			frame, err := c.Unmarshal(data)
			if err != nil {
				return err
			}
			*out = frame
			return nil
		},
	}
}
