package transfer

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/storage-node/internal/errors"
	"github.com/devrev/pairdb/storage-node/internal/metrics"
	"github.com/devrev/pairdb/storage-node/internal/model"
)

// Sink stores entries received from peers. A stale entry is reported with
// a StaleWrite error and skipped.
type Sink interface {
	Put(entry model.Entry) error
}

// ServerConfig holds the transfer listener configuration
type ServerConfig struct {
	Addr      string
	IOTimeout time.Duration
}

// Server accepts bulk transfer sessions and writes their entries to a Sink
type Server struct {
	cfg     ServerConfig
	sink    Sink
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a transfer server
func NewServer(cfg ServerConfig, sink Sink, m *metrics.Metrics, logger *zap.Logger) *Server {
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 30 * time.Second
	}
	return &Server{
		cfg:     cfg,
		sink:    sink,
		metrics: m,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the listening socket
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Serve accepts sessions until Close is called
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("transfer server is not listening")
	}

	s.logger.Info("Transfer server listening", zap.String("address", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

// Close stops accepting sessions and aborts the running ones
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()

	start := time.Now()
	entries, stale, bytes, err := s.receive(conn)
	s.metrics.RecordTransfer("in", entries, bytes, err)
	if err != nil {
		s.logger.Warn("Transfer session failed",
			zap.String("peer", conn.RemoteAddr().String()),
			zap.Int("entries", entries),
			zap.Error(err))
		return
	}

	s.logger.Debug("Transfer session completed",
		zap.String("peer", conn.RemoteAddr().String()),
		zap.Int("entries", entries),
		zap.Int("stale", stale),
		zap.Duration("duration", time.Since(start)))
}

func (s *Server) receive(conn net.Conn) (entries, stale int, bytes int64, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
		return 0, 0, 0, err
	}

	br := bufio.NewReader(conn)
	compressed, err := readHeader(br)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read header: %w", err)
	}

	var src io.Reader = br
	if compressed {
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return 0, 0, 0, fmt.Errorf("failed to create decoder: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	fr := &frameReader{r: src}
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			return entries, stale, bytes, err
		}
		entry, size, ok, err := fr.next()
		if err != nil {
			return entries, stale, bytes, fmt.Errorf("failed to read frame: %w", err)
		}
		if !ok {
			break
		}

		if err := s.sink.Put(entry); err != nil {
			if errors.GetCode(err) != errors.ErrCodeStaleWrite {
				return entries, stale, bytes, fmt.Errorf("failed to store %q: %w", entry.Key, err)
			}
			stale++
		}
		entries++
		bytes += int64(size) + 4
	}

	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
		return entries, stale, bytes, err
	}
	if err := writeTerminator(conn); err != nil {
		return entries, stale, bytes, fmt.Errorf("failed to send ack: %w", err)
	}
	return entries, stale, bytes, nil
}
