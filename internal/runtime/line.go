package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/event"
	"github.com/Iron-Ham/appharness/internal/future"
	"github.com/Iron-Ham/appharness/internal/logging"
)

// Actions of the line protocol.
const (
	ActionConnect   = "connect"
	ActionQuery     = "query"
	ActionSubscribe = "subscribe"
	ActionAck       = "ack"
	ActionEvent     = "event"
)

// Message is one line of the bridge protocol. Requests carry an ID and are
// answered by an "ack" with the same ID; pushed events carry no ID.
type Message struct {
	ID      uint64          `json:"id,omitempty"`
	Action  string          `json:"action"`
	UUID    string          `json:"uuid,omitempty"`
	Method  string          `json:"method,omitempty"`
	Event   string          `json:"event,omitempty"`
	Version string          `json:"version,omitempty"`
	Args    []string        `json:"args,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LineDialer connects to a container bridge speaking newline-delimited JSON
// over TCP. Pushed events are published on Bus, which the returned
// transport also uses to dispatch them to subscribers.
type LineDialer struct {
	Addr   string
	Bus    *event.Bus
	Logger *logging.Logger
}

// Connect dials the bridge and performs the connect handshake.
func (d *LineDialer) Connect(ctx context.Context, version string, args []string) (Transport, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial runtime bridge %s", d.Addr)
	}

	t := newLineTransport(conn, d.Bus, d.Logger)
	go t.readLoop()

	if err := t.handshake(ctx, version, args); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

type pendingCall struct {
	onSuccess future.Callback
	onFailure future.Callback
}

type lineTransport struct {
	conn   net.Conn
	bus    *event.Bus
	logger *logging.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]pendingCall
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newLineTransport(conn net.Conn, bus *event.Bus, logger *logging.Logger) *lineTransport {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus(logger)
	}
	return &lineTransport{
		conn:    conn,
		bus:     bus,
		logger:  logger.WithComponent("line_transport").With("addr", conn.RemoteAddr().String()),
		enc:     json.NewEncoder(conn),
		pending: make(map[uint64]pendingCall),
		done:    make(chan struct{}),
	}
}

func (t *lineTransport) handshake(ctx context.Context, version string, args []string) error {
	f := future.FromCallbacks(
		future.Call{Method: ActionConnect},
		func(onSuccess, onFailure future.Callback) {
			t.request(Message{Action: ActionConnect, Version: version, Args: args}, onSuccess, onFailure)
		},
		func(json.RawMessage) (struct{}, error) { return struct{}{}, nil },
		t.logger,
	)
	if _, err := f.Await(ctx); err != nil {
		return errors.Wrap(err, "runtime handshake")
	}
	return nil
}

// Subscribe asks the bridge to push eventName for uuid and dispatches the
// pushes from the bus to handler. It waits for the bridge to acknowledge
// the subscription until ctx is done.
func (t *lineTransport) Subscribe(ctx context.Context, uuid, eventName string, handler EventHandler) (func(), error) {
	cancel := t.bus.SubscribeFunc(event.ApplicationEventType(eventName), func(e event.Event) {
		ae, ok := e.(event.ApplicationEvent)
		if !ok || ae.UUID != uuid || ae.Name != eventName {
			return
		}
		handler(ae.Payload)
	})

	var failure json.RawMessage
	acked := make(chan bool, 1)
	id := t.request(Message{Action: ActionSubscribe, UUID: uuid, Event: eventName},
		func(json.RawMessage) { acked <- true },
		func(payload json.RawMessage) {
			failure = payload
			acked <- false
		})

	select {
	case ok := <-acked:
		if !ok {
			cancel()
			return nil, errors.NewRPCError(ActionSubscribe, failure).WithUUID(uuid)
		}
	case <-t.done:
		cancel()
		return nil, errors.Wrapf(errors.ErrClosed, "subscribe to %s", eventName)
	case <-ctx.Done():
		cancel()
		t.take(id)
		return nil, errors.Wrapf(ctx.Err(), "subscribe to %s", eventName)
	}
	return cancel, nil
}

// Query sends a query and routes the acknowledgement to the callbacks.
func (t *lineTransport) Query(uuid, method string, onSuccess, onFailure future.Callback) {
	t.request(Message{Action: ActionQuery, UUID: uuid, Method: method}, onSuccess, onFailure)
}

// request sends msg under a fresh ID and returns it. The ID is zero when
// the transport is already closed.
func (t *lineTransport) request(msg Message, onSuccess, onFailure future.Callback) uint64 {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		onFailure(failurePayload("transport closed"))
		return 0
	}
	t.nextID++
	msg.ID = t.nextID
	t.pending[msg.ID] = pendingCall{onSuccess: onSuccess, onFailure: onFailure}
	t.mu.Unlock()

	t.writeMu.Lock()
	err := t.enc.Encode(msg)
	t.writeMu.Unlock()
	if err != nil {
		if call, ok := t.take(msg.ID); ok {
			call.onFailure(failurePayload(err.Error()))
		}
	}
	return msg.ID
}

func (t *lineTransport) take(id uint64) (pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.pending[id]
	delete(t.pending, id)
	return call, ok
}

func (t *lineTransport) readLoop() {
	defer t.shutdown()

	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			t.logger.Warn("dropping malformed line", "error", err)
			continue
		}
		switch msg.Action {
		case ActionAck:
			call, ok := t.take(msg.ID)
			if !ok {
				t.logger.Warn("acknowledgement for unknown request", "id", msg.ID)
				continue
			}
			payload := json.RawMessage(append([]byte(nil), line...))
			if msg.Success != nil && *msg.Success {
				call.onSuccess(payload)
			} else {
				call.onFailure(payload)
			}
		case ActionEvent:
			t.bus.Publish(event.NewApplicationEvent(msg.UUID, msg.Event, msg.Payload))
		default:
			t.logger.Debug("ignoring message", "action", msg.Action)
		}
	}
	if err := scanner.Err(); err != nil {
		t.logger.Warn("runtime bridge read failed", "error", err)
	}
}

// shutdown fails every pending call once the connection is gone.
func (t *lineTransport) shutdown() {
	t.mu.Lock()
	t.closed = true
	pending := t.pending
	t.pending = make(map[uint64]pendingCall)
	t.mu.Unlock()

	for _, call := range pending {
		call.onFailure(failurePayload("connection closed"))
	}
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeErr = t.conn.Close()
	})
}

// Close closes the connection. Pending calls fail.
func (t *lineTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeErr = t.conn.Close()
	})
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.closeErr
}

func failurePayload(reason string) json.RawMessage {
	b, _ := json.Marshal(Message{Action: ActionAck, Success: new(bool), Reason: reason})
	return b
}
