package main

import (
	"github.com/loykin/restraint/pkg/client"
)

// APIClient talks to the local daemon's control API.
type APIClient = client.Client

// NewAPIClient creates a client for the given daemon URL; empty means
// the default loopback endpoint.
func NewAPIClient(baseURL string) *APIClient {
	return client.New(client.Config{BaseURL: baseURL})
}
