package ndjson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sandevgo/percept/internal/core"
)

// Writer is an event sink that writes one JSON envelope per line.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
	w   io.Writer
}

func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc, w: w}
}

func (w *Writer) Publish(ctx context.Context, ev core.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Kind, err)
	}
	return nil
}

// Close closes the underlying writer when it is closable.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
