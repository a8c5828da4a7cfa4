package sim

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/future"
	"github.com/Iron-Ham/appharness/internal/runtime"
)

// Connect opens a transport to the container. It implements
// runtime.Dialer.
func (c *Container) Connect(ctx context.Context, version string, args []string) (runtime.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("connect"); err != nil {
		return nil, err
	}
	c.connects = append(c.connects, ConnectCall{Version: version, Args: append([]string(nil), args...)})
	c.logger.Debug("runtime connected", "version", version, "args", args)
	return &transport{c: c}, nil
}

type transport struct {
	c *Container

	closeOnce sync.Once
	closed    bool
}

func (t *transport) Subscribe(ctx context.Context, uuid, eventName string, handler runtime.EventHandler) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.closed {
		return nil, errors.Wrapf(errors.ErrClosed, "subscribe to %s", eventName)
	}

	c.nextSub++
	id := c.nextSub
	c.subs[id] = subscription{owner: t, uuid: uuid, event: eventName, handler: handler}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
		})
	}, nil
}

func (t *transport) Query(uuid, method string, onSuccess, onFailure future.Callback) {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()

	var ok bool
	var body any
	switch {
	case t.closed:
		body = map[string]any{"success": false, "reason": "transport closed"}
	case c.queryFail != "":
		body = map[string]any{"success": false, "reason": c.queryFail}
	case uuid != c.opts.UUID:
		body = map[string]any{"success": false, "reason": "no application with uuid " + uuid}
	default:
		switch method {
		case runtime.MethodIsRunning:
			ok, body = true, map[string]any{"success": true, "data": c.running}
		case runtime.MethodGetChildWindows:
			windows := make([]map[string]string, c.windows)
			for i := range windows {
				windows[i] = map[string]string{"uuid": uuid, "name": childWindowName(i)}
			}
			ok, body = true, map[string]any{"success": true, "data": windows}
		default:
			body = map[string]any{"success": false, "reason": "unknown method " + method}
		}
	}

	payload, _ := json.Marshal(body)
	double := c.doubleAcks
	c.enqueue(func() {
		if ok || double {
			onSuccess(payload)
		}
		if !ok || double {
			onFailure(payload)
		}
	})
}

func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		c := t.c
		c.mu.Lock()
		defer c.mu.Unlock()
		t.closed = true
		for id, s := range c.subs {
			if s.owner == t {
				delete(c.subs, id)
			}
		}
	})
	return nil
}

func childWindowName(i int) string {
	return "child-window-" + string(rune('a'+i%26))
}
