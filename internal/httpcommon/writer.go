// Package httpcommon holds small HTTP helpers shared by proxyserver and
// relay: a flushing response writer and the SSE frame shape, adapted from
// the teacher's transport/server/http/common/writer.go.
package httpcommon

import (
	"fmt"
	"net/http"
)

// FlushWriter wraps http.ResponseWriter and flushes every write so bytes
// reach the client immediately, required for SSE and NDJSON streaming.
type FlushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewFlushWriter builds a FlushWriter over rw.
func NewFlushWriter(rw http.ResponseWriter) *FlushWriter {
	flusher, _ := rw.(http.Flusher)
	return &FlushWriter{w: rw, flusher: flusher}
}

func (w *FlushWriter) Write(p []byte) (int, error) {
	if w.flusher == nil {
		return 0, fmt.Errorf("streaming not supported: %T does not support flushing", w.w)
	}
	n, err := w.w.Write(p)
	if err == nil {
		w.flusher.Flush()
	}
	return n, err
}

// WriteEvent writes one SSE frame: "event: <name>\ndata: <data>\n\n", per
// spec §6's SSE frame shape.
func WriteEvent(w *FlushWriter, event string, data []byte) error {
	_, err := w.Write([]byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)))
	return err
}

// WriteData writes an unnamed SSE data frame: "data: <data>\n\n".
func WriteData(w *FlushWriter, data []byte) error {
	_, err := w.Write(append(append([]byte("data: "), data...), '\n', '\n'))
	return err
}
