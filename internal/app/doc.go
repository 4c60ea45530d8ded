// Package app wires the shop entitlement service together and manages its
// lifecycle.
//
// # Initialization Flow
//
//  1. Load and validate configuration
//  2. Initialize logging and OpenTelemetry
//  3. Open storage, sealing it to the device when configured
//  4. Build the license validator, entitlement resolver and websocket pusher
//  5. Mount middleware and routes, with the access gate in front of the UI
//
// # Usage
//
//	application, err := app.NewApplication(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// Run returns after SIGINT, SIGTERM or cancellation of ctx, once the HTTP
// server has drained and telemetry has been flushed. The package never calls
// os.Exit.
package app
