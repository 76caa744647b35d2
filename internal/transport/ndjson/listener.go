package ndjson

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/sandevgo/percept/pkg/log"
)

// SocketSource accepts segment streams on a unix socket, one goroutine per connection.
type SocketSource struct {
	path   string
	reader *Reader

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewSocketSource(path string, reader *Reader) *SocketSource {
	return &SocketSource{
		path:   path,
		reader: reader,
		conns:  make(map[net.Conn]struct{}),
	}
}

func (s *SocketSource) Start(ctx context.Context) error {
	ctx = log.WithComponent(ctx, "ndjson")
	logger := log.FromCtx(ctx)

	// A socket file left by a crashed run blocks Listen.
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info().Str("socket", s.path).Msg("accepting segment streams")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serve(ctx, conn)
		}()
	}
}

func (s *SocketSource) serve(ctx context.Context, conn io.Reader) {
	n, err := s.reader.ReadFrom(ctx, conn, s.path)
	logger := log.FromCtx(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("segment stream ended with error")
	}
	logger.Debug().Int("segments", n).Msg("segment stream closed")
}

func (s *SocketSource) track(c net.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *SocketSource) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

// Shutdown closes the listener and every open connection, then waits for readers.
func (s *SocketSource) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// StreamSource reads one stream, typically stdin. onEOF runs when the stream ends
// so the caller can stop the process once the input is exhausted.
type StreamSource struct {
	src    io.Reader
	name   string
	reader *Reader
	onEOF  func()
}

func NewStreamSource(src io.Reader, name string, reader *Reader, onEOF func()) *StreamSource {
	return &StreamSource{src: src, name: name, reader: reader, onEOF: onEOF}
}

func (s *StreamSource) Start(ctx context.Context) error {
	ctx = log.WithComponent(ctx, "ndjson")
	log.FromCtx(ctx).Info().Str("input", s.name).Msg("reading segment stream")

	n, err := s.reader.ReadFrom(ctx, s.src, s.name)
	if err != nil {
		return err
	}
	log.FromCtx(ctx).Info().Int("segments", n).Msg("segment stream exhausted")
	if s.onEOF != nil && ctx.Err() == nil {
		s.onEOF()
	}
	return nil
}

func (s *StreamSource) Shutdown(ctx context.Context) error {
	return nil
}
