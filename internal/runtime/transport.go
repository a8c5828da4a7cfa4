// Package runtime connects to a desktop container's automation transport.
//
// The transport itself is consumed as an opaque capability: it can
// subscribe to pushed application events and answer remote queries through
// a success and a failure callback. This package decides whether to share
// an already-running container, owns the single connection of a test
// session, and hands out [Application] lookup handles that the lifecycle
// tracker consumes.
package runtime

import (
	"context"
	"encoding/json"

	"github.com/Iron-Ham/appharness/internal/future"
)

// Remote methods and events understood by every transport.
const (
	MethodIsRunning       = "isRunning"
	MethodGetChildWindows = "getChildWindows"

	EventStarted = "started"
	EventClosed  = "closed"
)

// EventHandler receives the payload of a pushed application event.
type EventHandler func(payload json.RawMessage)

// Transport is a live connection to the container.
type Transport interface {
	// Subscribe registers handler for eventName pushed for application uuid.
	// It blocks until the container accepts the subscription or ctx is done.
	// Handlers may run on any goroutine. The returned function removes the
	// subscription and is safe to call more than once.
	Subscribe(ctx context.Context, uuid, eventName string, handler EventHandler) (func(), error)

	// Query invokes method for application uuid. Exactly one of the
	// callbacks is expected to fire, possibly on another goroutine.
	Query(uuid, method string, onSuccess, onFailure future.Callback)

	// Close releases the connection.
	Close() error
}

// Dialer opens a Transport to a container of the given version. args are
// launch arguments for a container that has to be started.
type Dialer interface {
	Connect(ctx context.Context, version string, args []string) (Transport, error)
}
