// Package main implements the entry point for the jotstack server, which
// runs the background job queue, the pipeline executor, and the HTTP API
// in front of them.
package main

import (
	"log"
)

func main() {
	app, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Run(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
