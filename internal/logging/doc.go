// Package logging provides structured logging for harness sessions.
//
// Every component of a session (asset server, runtime connector, lifecycle
// tracker, process controller) logs through a child of one session
// [Logger], so a single log file answers "what did the container do and
// what did the harness see" for a failed scenario.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/session", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	appLog := logger.WithSession(id).WithApp("openfin-tests").WithComponent("tracker")
//	appLog.Info("state changed", "from", "starting", "to", "running")
//
// # Output
//
// Logs written to a session directory are always JSON. Logs written to a
// stream may use [FormatText], which the CLI selects when stderr is a
// terminal.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers share
// the parent's file, and closing any of them closes it once.
package logging
