package jsonrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectMessageType(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want MessageType
	}{
		{
			name: "request with id and method",
			data: `{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
			want: MessageTypeRequest,
		},
		{
			name: "response with id, no method",
			data: `{"jsonrpc":"2.0","id":1,"result":{}}`,
			want: MessageTypeResponse,
		},
		{
			name: "notification without id",
			data: `{"jsonrpc":"2.0","method":"notifications/test","params":{}}`,
			want: MessageTypeNotification,
		},
		{
			name: "batch array of two requests",
			data: `[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","id":2,"method":"b"}]`,
			want: MessageTypeBatch,
		},
		{
			name: "batch array with leading whitespace",
			data: "  \n[{\"id\":1}]",
			want: MessageTypeBatch,
		},
		{
			name: "malformed JSON",
			data: `{"jsonrpc":"2.0",`,
			want: MessageTypeInvalid,
		},
		{
			name: "empty body",
			data: ``,
			want: MessageTypeInvalid,
		},
	}

	for _, tc := range testCases {
		got := DetectMessageType([]byte(tc.data))
		assert.Equal(t, tc.want, got, tc.name)
	}
}
