// Package transport defines the binary WebSocket-like channel contract
// (§6) and a plain-websocket bench/dev implementation grounded on
// gorilla/websocket. The TLS-secured production adapter is an external
// collaborator and stays out of scope; TLSConfig documents its seam.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTimeout is returned by ReceiveBinary when no message arrives within
// the given timeout.
var ErrTimeout = errors.New("transport: receive timeout")

// ErrNotConnected is returned by SendBinary/ReceiveBinary before Connect
// has succeeded, or after Close.
var ErrNotConnected = errors.New("transport: not connected")

// Transport is a binary WebSocket-like channel: connect, close, send a
// frame, and receive a frame with a bounded wait.
type Transport interface {
	Connect(ctx context.Context, uri string) error
	Close() error
	SendBinary(data []byte) error
	ReceiveBinary(timeout time.Duration) ([]byte, error)
}

// TLSConfig mirrors the out-of-scope secure transport adapter's
// constructor argument shape so internal/config has somewhere to parse
// these fields from YAML. Nothing in this module dials with it; it is
// inert documentation of the seam a real secure adapter would fill.
type TLSConfig struct {
	URI                       string
	ExpectedHost              string
	CACertificatePEM          string
	ClientCertificatePEM      string
	ClientPrivateKeyPEM       string
	EnforceHostnameValidation bool
}

// WebSocketTransport is a plain (non-TLS) gorilla/websocket client
// implementation of Transport, suitable for bench and integration use
// against a loopback or LAN server.
type WebSocketTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketTransport returns an unconnected WebSocketTransport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

// Connect dials uri and stores the resulting connection.
func (t *WebSocketTransport) Connect(ctx context.Context, uri string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", uri, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Close closes the underlying connection, if any.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// SendBinary writes data as a single binary websocket message.
func (t *WebSocketTransport) SendBinary(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// ReceiveBinary blocks for up to timeout for the next binary message.
func (t *WebSocketTransport) ReceiveBinary(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return data, nil
}
