// Package app wires the gateway together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Initialize logging and OpenTelemetry
//	2. Create the engine selected by the configuration (memory or valkey)
//	3. Create the monitor registry and the command hook feeding it
//	4. Create the command translator, the credential verifier and the
//	   WebSocket session manager
//	5. Build the chi router with every route behind Basic-Auth
//
// # Routes
//
//	POST   /process      command line in a JSON body
//	GET    /item/{key}   get
//	DELETE /item/{key}   del
//	GET    /ping         PONG
//	GET    /process      WebSocket, one command line per text frame
//	GET    /health       WebSocket, "PING" on every tick
//	GET    /monitor      WebSocket, every executed command
//
// Anything else, including a plain GET on a WebSocket route, is an empty 404.
//
// # Usage
//
//	a, err := app.NewApplication(cfg, version)
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// # Graceful Shutdown
//
// Run stops on SIGINT or SIGTERM. Stop drains HTTP requests, closes the
// WebSocket sessions with a going-away frame, uninstalls the hook, closes
// the registry and the engine, and flushes telemetry.
package app
