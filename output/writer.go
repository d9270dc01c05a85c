package output

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/dcshock/defsync/pipeline"
)

// Writer is a Publisher that writes one JSON line per message to an
// io.Writer. It never fails to connect; used for dry runs.
type Writer struct {
	mu        sync.Mutex
	w         io.Writer
	connected bool
}

var _ pipeline.Publisher = (*Writer)(nil)

// NewWriter returns a Writer publishing to w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

type line struct {
	ID          string          `json:"id"`
	ContentType string          `json:"content_type"`
	Version     string          `json:"version"`
	Digest      string          `json:"digest"`
	Body        json.RawMessage `json:"body,omitempty"`
	Raw         []byte          `json:"raw,omitempty"`
}

func (w *Writer) Connect(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = true
	return nil
}

func (w *Writer) Publish(ctx context.Context, msg pipeline.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return pipeline.RetryableErr(errNotConnected)
	}
	l := line{ID: msg.ID, ContentType: msg.ContentType, Version: string(msg.Version), Digest: msg.Digest}
	if strings.HasSuffix(msg.ContentType, "json") && json.Valid(msg.Body) {
		l.Body = msg.Body
	} else {
		l.Raw = msg.Body
	}
	return json.NewEncoder(w.w).Encode(l)
}

func (w *Writer) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	return nil
}
