package ndjson

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/internal/service/session"
	"github.com/sandevgo/percept/pkg/log"
)

// maxLine bounds a single segment line.
const maxLine = 1 << 20

type SegmentHandler interface {
	OnSegment(ctx context.Context, sessionID string, seg core.Segment) error
}

// Reader decodes one segment per line and hands it to the session buffer.
type Reader struct {
	handler SegmentHandler
}

func NewReader(handler SegmentHandler) *Reader {
	return &Reader{handler: handler}
}

// ReadFrom consumes r until EOF, ctx cancellation or a closed buffer.
// Lines that do not decode or validate are logged and skipped, and so are
// lines longer than maxLine.
func (r *Reader) ReadFrom(ctx context.Context, src io.Reader, name string) (int, error) {
	logger := log.FromCtx(ctx).With().Str("source", name).Logger()

	br := bufio.NewReaderSize(src, 64*1024)
	var buf []byte

	accepted, lineNo := 0, 0
	for done := false; !done; {
		raw, tooLong, err := readLine(br, buf[:0])
		buf = raw
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			done = true
		default:
			return accepted, fmt.Errorf("read %s: %w", name, err)
		}
		if ctx.Err() != nil {
			return accepted, nil
		}
		if len(raw) == 0 && !tooLong {
			continue
		}
		lineNo++

		if tooLong {
			logger.Warn().
				Err(fmt.Errorf("%w: line exceeds %d bytes", core.ErrInputMalformed, maxLine)).
				Int("line", lineNo).
				Msg("skipping segment")
			continue
		}

		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}

		seg, err := decodeSegment(line)
		if err != nil {
			logger.Warn().Err(err).Int("line", lineNo).Msg("skipping segment")
			continue
		}

		err = r.handler.OnSegment(ctx, seg.SessionID, seg)
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, session.ErrClosed):
			return accepted, nil
		case errors.Is(err, core.ErrInputMalformed):
			logger.Warn().Err(err).Int("line", lineNo).Msg("skipping segment")
		default:
			logger.Error().Err(err).Int("line", lineNo).Msg("segment rejected")
		}
	}
	return accepted, nil
}

// readLine appends the next line of br to buf. A line over maxLine is
// drained to its newline and reported as tooLong with an empty buf.
func readLine(br *bufio.Reader, buf []byte) ([]byte, bool, error) {
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLine {
				tooLong, buf = true, buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, tooLong, err
	}
}

func decodeSegment(line []byte) (core.Segment, error) {
	var seg core.Segment
	dec := json.NewDecoder(bytes.NewReader(line))
	if err := dec.Decode(&seg); err != nil {
		return seg, fmt.Errorf("%w: %v", core.ErrInputMalformed, err)
	}
	if dec.More() {
		return seg, fmt.Errorf("%w: trailing data after object", core.ErrInputMalformed)
	}
	return seg, nil
}
