// sage-server is the CryptoSage webhook agent binary. It serves the JSON-RPC
// /invoke endpoint plus the manifest and health routes.
package main

import (
	"log"

	"sage/internal/server/bootstrap"
)

func main() {
	srv, err := bootstrap.New()
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
