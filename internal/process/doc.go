// Package process starts and stops the application under test.
//
// A [ContainerController] owns the driver session and the optional helper
// process of the one application a test session manages. A [Planner]
// decides how a container is brought up: the OpenFin planner either
// attaches the driver to a shared container's debug port or has the driver
// start the launch script, and the Tauri planner hands the application
// binary to tauri-driver.
//
// Stopping runs the planner's close script in the session before quitting
// it, because quitting a driver session does not end the container
// process. Stop is idempotent.
//
// External processes are spawned into their own process group so that
// [Process.Stop] reaches every child: SIGTERM first, SIGKILL after
// [DefaultStopTimeout].
package process
