// Package app provides application initialization and lifecycle management
// for the VendDesk server. It wires the licensing subsystem, the HTTP
// surface, and the background renewal scheduler, and owns graceful
// shutdown.
//
// # Initialization Flow
//
// The typical initialization sequence:
//
//	1. Load configuration from environment and the optional YAML file
//	2. Initialize logging and metrics
//	3. Build the license store, verifier, Hub client, and service
//	4. Set up HTTP handlers and middleware (including the license gate)
//	5. Run the startup license check
//	6. Start the renewal scheduler and the HTTP server
//
// # Startup Gate
//
// Boot is refused only when the stored license is expired past the
// extended grace window. Every other license state starts the server so
// the activation flow stays reachable.
//
// # Graceful Shutdown
//
// The package handles SIGINT and SIGTERM to ensure active requests are
// completed, the renewal scheduler is stopped, and telemetry is flushed.
//
// # Error Handling
//
// All initialization errors are returned to the caller. The app does not
// call os.Exit() directly, allowing main to control the exit process.
package app
