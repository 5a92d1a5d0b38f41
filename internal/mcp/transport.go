package mcp

import "context"

// Transport carries JSON-RPC messages between the client and a tool server.
// Each RoundTrip is a single blocking request/response exchange.
type Transport interface {
	// RoundTrip sends a JSON-RPC request and returns the matching response.
	RoundTrip(ctx context.Context, request []byte) ([]byte, error)
	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notification []byte) error
	// Close releases transport resources.
	Close() error
}
