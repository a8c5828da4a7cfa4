package future

import (
	"encoding/json"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/logging"
)

// Callback receives the raw payload of a success or failure acknowledgement.
type Callback func(payload json.RawMessage)

// Invoker starts a remote call that reports its outcome through exactly
// one of the two callbacks (or, when the container misbehaves, several).
type Invoker func(onSuccess, onFailure Callback)

// Decoder turns a success payload into a value.
type Decoder[T any] func(payload json.RawMessage) (T, error)

// Call names a remote call for errors and logs.
type Call struct {
	Method string
	UUID   string
}

// FromCallbacks issues the call and returns a Future bound to its callbacks.
// A success payload is decoded with decode; a failure payload rejects the
// future with an *errors.RPCError carrying the payload unchanged. The call
// is never retried.
func FromCallbacks[T any](call Call, invoke Invoker, decode Decoder[T], logger *logging.Logger) *Future[T] {
	if logger == nil {
		logger = logging.NopLogger()
	}
	f := New[T](call.Method, logger.With("method", call.Method, "app_uuid", call.UUID))

	onSuccess := func(payload json.RawMessage) {
		v, err := decode(payload)
		if err != nil {
			f.Reject(errors.NewRPCError(call.Method, payload).
				WithUUID(call.UUID).
				WithCause(errors.Wrap(err, "decode acknowledgement")))
			return
		}
		f.Resolve(v)
	}
	onFailure := func(payload json.RawMessage) {
		f.Reject(errors.NewRPCError(call.Method, payload).WithUUID(call.UUID))
	}

	invoke(onSuccess, onFailure)
	return f
}

// ack is the acknowledgement envelope used by the container's automation API.
type ack struct {
	Success *bool           `json:"success,omitempty"`
	Data    json.RawMessage `json:"data"`
	Reason  string          `json:"reason,omitempty"`
}

// AckData decodes the "data" member of an acknowledgement object such as
// {"success":true,"data":true}.
func AckData[T any](payload json.RawMessage) (T, error) {
	var zero T
	var a ack
	if err := json.Unmarshal(payload, &a); err != nil {
		return zero, err
	}
	if len(a.Data) == 0 {
		return zero, errors.NewValidationError("acknowledgement has no data").WithField("data")
	}
	return JSON[T](a.Data)
}

// JSON decodes the whole payload as T.
func JSON[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, err
	}
	return v, nil
}
