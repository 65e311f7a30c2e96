package notifier

import "encoding/json"

// TypeUpdate marks a message announcing new content upstream.
const TypeUpdate = "update"

// Message is the JSON frame sent to clients.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
