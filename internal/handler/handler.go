// Package handler provides HTTP request handlers for the items API.
package handler

// Version is the application version.
const Version = "1.0.0"

// HealthMessage is returned by the liveness endpoint.
const HealthMessage = "It is working!"

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Message string `json:"message"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
