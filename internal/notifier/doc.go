// Package notifier pushes "update" signals to running installations.
//
// The server accepts GitHub webhooks, verifies their HMAC-SHA256 signature
// and broadcasts the payload to every connected WebSocket client. The
// client keeps one connection open, reconnecting after a fixed delay, and
// hands each update message to a callback.
package notifier
