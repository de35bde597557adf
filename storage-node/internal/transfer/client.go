package transfer

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/storage-node/internal/errors"
	"github.com/devrev/pairdb/storage-node/internal/metrics"
	"github.com/devrev/pairdb/storage-node/internal/model"
)

// ClientConfig holds the transfer sender configuration
type ClientConfig struct {
	Compression bool
	DialTimeout time.Duration
	// PortOffset is added to a node's RPC port to find its transfer port
	PortOffset int
}

// Client streams entries to the transfer listener of other nodes
type Client struct {
	cfg     ClientConfig
	dialer  *net.Dialer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewClient creates a transfer client
func NewClient(cfg ClientConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Client{
		cfg:     cfg,
		dialer:  &net.Dialer{Timeout: cfg.DialTimeout},
		metrics: m,
		logger:  logger,
	}
}

// StreamAddr maps a node's RPC address to its transfer address
func StreamAddr(rpcAddr string, portOffset int) (string, error) {
	host, port, err := net.SplitHostPort(rpcAddr)
	if err != nil {
		return "", fmt.Errorf("invalid node address %q: %w", rpcAddr, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("invalid node port %q: %w", port, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(p+portOffset)), nil
}

// SendToNode streams entries to the node whose RPC address is rpcAddr
func (c *Client) SendToNode(ctx context.Context, rpcAddr string, entries []model.Entry) error {
	addr, err := StreamAddr(rpcAddr, c.cfg.PortOffset)
	if err != nil {
		return err
	}
	return c.Send(ctx, addr, entries)
}

// Send streams entries to the transfer listener at addr and waits for its
// acknowledgement. Cancelling ctx aborts the session.
func (c *Client) Send(ctx context.Context, addr string, entries []model.Entry) (err error) {
	start := time.Now()
	var bytes int64
	defer func() {
		c.metrics.RecordTransfer("out", len(entries), bytes, err)
		c.metrics.TransferDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			err = errors.TransferFailed(addr, err)
		}
	}()

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	bw := bufio.NewWriter(conn)
	if err := writeHeader(bw, c.cfg.Compression); err != nil {
		return err
	}

	var dst io.Writer = bw
	var enc *zstd.Encoder
	if c.cfg.Compression {
		enc, err = zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return fmt.Errorf("failed to create encoder: %w", err)
		}
		dst = enc
	}

	var buf []byte
	for _, e := range entries {
		buf = encodeEntry(buf[:0], e)
		if _, err := dst.Write(buf); err != nil {
			return err
		}
		bytes += int64(len(buf))
	}
	if err := writeTerminator(dst); err != nil {
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	var ack [4]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return fmt.Errorf("no acknowledgement: %w", err)
	}
	if n := binary.BigEndian.Uint32(ack[:]); n != 0 {
		return fmt.Errorf("unexpected acknowledgement frame of %d bytes", n)
	}
	return nil
}
