// Package server implements the real-time chat session manager: WebSocket
// connection handling, the authentication handshake, the live connection
// registry with broadcast fan-out, keep-alive pings, and the out-of-band
// rename endpoint.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, the session state machine, routing, and HTTP
// handlers to keep the codebase maintainable and testable as the project
// grows. Durable state lives in the store package.
package server
