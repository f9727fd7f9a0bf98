package jsonrpc

import (
	"github.com/goccy/go-json"
)

// MessageType is an enumeration of the shapes a decoded JSON-RPC line can take.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeNotification MessageType = "notification"
	MessageTypeResponse     MessageType = "response"
	MessageTypeBatch        MessageType = "batch"
	MessageTypeInvalid      MessageType = "invalid"
)

// probe is unmarshaled first to classify a line without committing to a full
// Request/Response/Notification decode. Mirrors the teacher's
// transport/base/detector.go probing idiom.
type probe struct {
	Id     *RequestId  `json:"id"`
	Error  *InnerError `json:"error"`
	Method string      `json:"method"`
}

// DetectMessageType classifies a single raw JSON-RPC line. A leading '[' is
// always a batch regardless of what it contains, since batch JSON-RPC is
// rejected outright (spec: Non-goals).
func DetectMessageType(data []byte) MessageType {
	trimmed := trimLeadingSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return MessageTypeBatch
	}
	p := &probe{}
	if err := json.Unmarshal(data, p); err != nil {
		return MessageTypeInvalid
	}
	if p.Id == nil {
		return MessageTypeNotification
	}
	if p.Method != "" {
		return MessageTypeRequest
	}
	return MessageTypeResponse
}

func trimLeadingSpace(data []byte) []byte {
	i := 0
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return data[i:]
}
