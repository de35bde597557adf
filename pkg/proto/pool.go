package proto

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// PoolConfig tunes the connections held by a ConnPool.
type PoolConfig struct {
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	MaxMessageSize   int
}

// ConnPool keeps one lazily dialed client connection per address.
type ConnPool struct {
	mu     sync.Mutex
	conns  map[string]*grpc.ClientConn
	opts   []grpc.DialOption
	logger *zap.Logger
}

// NewConnPool creates an empty pool.
func NewConnPool(cfg PoolConfig, logger *zap.Logger) *ConnPool {
	if cfg.KeepaliveTime == 0 {
		cfg.KeepaliveTime = 30 * time.Second
	}
	if cfg.KeepaliveTimeout == 0 {
		cfg.KeepaliveTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 64 * 1024 * 1024
	}

	return &ConnPool{
		conns: make(map[string]*grpc.ClientConn),
		opts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				CallOption(),
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                cfg.KeepaliveTime,
				Timeout:             cfg.KeepaliveTimeout,
				PermitWithoutStream: true,
			}),
		},
		logger: logger,
	}
}

// Get returns the connection for addr, dialing it on first use.
func (p *ConnPool) Get(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[addr]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	p.conns[addr] = conn
	return conn, nil
}

// Drop closes and forgets the connection for addr.
func (p *ConnPool) Drop(addr string) {
	p.mu.Lock()
	conn, ok := p.conns[addr]
	delete(p.conns, addr)
	p.mu.Unlock()

	if ok {
		if err := conn.Close(); err != nil {
			p.logger.Debug("Failed to close connection", zap.String("addr", addr), zap.Error(err))
		}
	}
}

// Close closes every connection.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for addr, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close connection to %s: %w", addr, err)
		}
	}
	p.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
