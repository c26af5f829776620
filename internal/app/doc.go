// Package app wires configuration, telemetry, the scoring pipeline and the
// HTTP API into a runnable application.
//
// # Initialization Flow
//
//	1. Load configuration (defaults, YAML file, TENDERSCOPE_* env)
//	2. Initialize logging and create the working directories
//	3. Initialize OpenTelemetry and the pipeline metrics
//	4. Build the pipeline, open the snapshot store and the table loader
//	5. Create the run store, scoring and health services
//	6. Set up middleware, handlers and the HTTP server
//
// # Usage
//
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return err
//	}
//	return application.Run()
//
// Commands that score files without serving build the same Application and
// call Close when done.
//
// # Graceful Shutdown
//
// Run handles SIGINT and SIGTERM. Stop drains in-flight requests within the
// configured shutdown timeout, closes the snapshot store and flushes the
// telemetry providers. The package never calls os.Exit.
package app
