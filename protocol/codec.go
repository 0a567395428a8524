package protocol

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// encMode uses Core Deterministic Encoding so equal operations encode to
// equal bytes. Addresses travel as their text form.
var encMode cbor.EncMode

// decMode ignores unknown fields so newer clients can talk to older
// coordinators.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Request is the wire envelope of an operation.
type Request struct {
	ID            string          `cbor:"id"`
	Kind          Kind            `cbor:"kind"`
	Payload       cbor.RawMessage `cbor:"payload,omitempty"`
	TimeoutMillis int64           `cbor:"timeout_ms,omitempty"`
}

// NewRequest wraps op in an envelope with a fresh request id.
func NewRequest(op Operation) (*Request, error) {
	payload, err := encMode.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", op.Kind(), err)
	}
	return &Request{
		ID:      uuid.NewString(),
		Kind:    op.Kind(),
		Payload: payload,
	}, nil
}

// DecodeOperation rebuilds the operation carried by r.
func DecodeOperation(r *Request) (Operation, error) {
	var op Operation
	var err error
	switch r.Kind {
	case KindInstall:
		op, err = decodePayload[Install](r.Payload)
	case KindDownload:
		op, err = decodePayload[Download](r.Payload)
	case KindPrintLayout:
		op, err = decodePayload[PrintLayout](r.Payload)
	case KindStopCoordinator:
		op, err = decodePayload[StopCoordinator](r.Payload)
	case KindTestRun:
		op, err = decodePayload[TestRun](r.Payload)
	case KindTestStatus:
		op, err = decodePayload[TestStatus](r.Payload)
	case KindTestStop:
		op, err = decodePayload[TestStop](r.Payload)
	case KindWorkerKill:
		op, err = decodePayload[WorkerKill](r.Payload)
	case KindWorkerScript:
		op, err = decodePayload[WorkerScript](r.Payload)
	case KindWorkerStart:
		op, err = decodePayload[WorkerStart](r.Payload)
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown operation kind %q", r.Kind)}
	}
	if err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("decoding %s payload: %v", r.Kind, err)}
	}
	return op, nil
}

func decodePayload[T Operation](payload []byte) (T, error) {
	var op T
	if len(payload) == 0 {
		return op, nil
	}
	err := decMode.Unmarshal(payload, &op)
	return op, err
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
