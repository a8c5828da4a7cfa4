// Package event provides a pub-sub event bus for decoupled communication
// between the parts of a harness session.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Application:
//   - [ApplicationEvent]: pushed by the container ("application.started", "application.closed")
//
// Lifecycle:
//   - [StateChangedEvent]: a tracker moved between lifecycle states
//
// Assets:
//   - [AssetChangedEvent]: a served file was created, written or removed
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine and protected against panics.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	cancel := bus.SubscribeFunc(event.TypeApplicationClosed, func(e event.Event) {
//	    closed := e.(event.ApplicationEvent)
//	    log.Printf("%s closed", closed.UUID)
//	})
//	defer cancel()
//
//	bus.Publish(event.NewApplicationEvent("openfin-tests", "closed", nil))
package event
