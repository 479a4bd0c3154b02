// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom close codes, carried in the 3000-3999 application range so clients
// can distinguish policy failures from transport problems. Token failures
// never get this far; they are rejected with HTTP 401 before the upgrade.
const (
	CloseBadSubprotocol websocket.StatusCode = 3000
)
