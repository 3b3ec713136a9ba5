package soft

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

type frameKind uint8

const (
	frameHello frameKind = iota + 1
	frameAccept
	frameReject
	frameSend
	frameWrite
	frameWriteAck
	frameReadReq
	frameReadResp
	frameDisconnect
)

func (k frameKind) String() string {
	switch k {
	case frameHello:
		return "hello"
	case frameAccept:
		return "accept"
	case frameReject:
		return "reject"
	case frameSend:
		return "send"
	case frameWrite:
		return "write"
	case frameWriteAck:
		return "write-ack"
	case frameReadReq:
		return "read-req"
	case frameReadResp:
		return "read-resp"
	case frameDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// frame is the single wire message. Fields unused by a kind stay zero and are
// omitted from the encoding.
type frame struct {
	Kind    frameKind `cbor:"1,keyasint"`
	Session []byte    `cbor:"2,keyasint,omitempty"`
	Data    []byte    `cbor:"3,keyasint,omitempty"`
	Seq     uint64    `cbor:"4,keyasint,omitempty"`
	Addr    uint64    `cbor:"5,keyasint,omitempty"`
	RKey    uint32    `cbor:"6,keyasint,omitempty"`
	Length  uint32    `cbor:"7,keyasint,omitempty"`
	Status  uint8     `cbor:"8,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 16, MaxMapPairs: 16}).DecMode(); err != nil {
		panic(err)
	}
}

// codec reads and writes self-delimiting CBOR frames on a stream.
type codec struct {
	enc *cbor.Encoder
	dec *cbor.Decoder
}

func newCodec(rw io.ReadWriter) *codec {
	return &codec{
		enc: encMode.NewEncoder(rw),
		dec: decMode.NewDecoder(rw),
	}
}

func (c *codec) write(f *frame) error { return c.enc.Encode(f) }

func (c *codec) read() (*frame, error) {
	f := new(frame)
	if err := c.dec.Decode(f); err != nil {
		return nil, err
	}
	return f, nil
}
