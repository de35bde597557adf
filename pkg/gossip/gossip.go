// Package gossip announces pairdb processes to each other over SWIM
// (hashicorp/memberlist) and reports membership changes to a Listener.
package gossip

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	pb "github.com/devrev/pairdb/pkg/proto"
)

// Config holds gossip protocol configuration.
type Config struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	BindAddr       string        `mapstructure:"bind_addr" yaml:"bind_addr"`
	BindPort       int           `mapstructure:"bind_port" yaml:"bind_port"`
	SeedNodes      []string      `mapstructure:"seed_nodes" yaml:"seed_nodes"`
	GossipInterval time.Duration `mapstructure:"gossip_interval" yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
}

// Meta is the payload each member advertises.
type Meta struct {
	Role    pb.Role `json:"role"`
	RPCAddr string  `json:"rpc_addr"`
}

// Listener receives membership changes of remote members.
type Listener interface {
	MemberJoined(meta Meta)
	MemberLeft(meta Meta)
}

// Service wraps a memberlist instance.
type Service struct {
	memberlist *memberlist.Memberlist
	local      Meta
	listener   Listener
	logger     *zap.Logger
}

// New creates the gossip service and joins the configured seeds.
func New(cfg Config, name string, local Meta, listener Listener, logger *zap.Logger) (*Service, error) {
	s := newService(local, listener, logger)

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = name
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = s
	mlConfig.Events = &eventDelegate{service: s}
	mlConfig.LogOutput = zap.NewStdLog(logger.Named("memberlist")).Writer()

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	s.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return s, nil
}

func newService(local Meta, listener Listener, logger *zap.Logger) *Service {
	return &Service{local: local, listener: listener, logger: logger}
}

// Members returns the metadata of every live member, the local one included.
func (s *Service) Members() []Meta {
	if s.memberlist == nil {
		return nil
	}
	out := make([]Meta, 0, s.memberlist.NumMembers())
	for _, m := range s.memberlist.Members() {
		if meta, ok := decodeMeta(m.Meta); ok {
			out = append(out, meta)
		}
	}
	return out
}

// Shutdown leaves the cluster and stops the memberlist.
func (s *Service) Shutdown() error {
	if s.memberlist == nil {
		return nil
	}
	if err := s.memberlist.Leave(time.Second); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// NodeMeta implements memberlist.Delegate
func (s *Service) NodeMeta(limit int) []byte {
	data, err := json.Marshal(s.local)
	if err != nil || len(data) > limit {
		return nil
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *Service) NotifyMsg([]byte) {}

// GetBroadcasts implements memberlist.Delegate
func (s *Service) GetBroadcasts(overhead, limit int) [][]byte { return nil }

// LocalState implements memberlist.Delegate
func (s *Service) LocalState(join bool) []byte { return nil }

// MergeRemoteState implements memberlist.Delegate
func (s *Service) MergeRemoteState(buf []byte, join bool) {}

func decodeMeta(data []byte) (Meta, bool) {
	var meta Meta
	if len(data) == 0 || json.Unmarshal(data, &meta) != nil || meta.RPCAddr == "" {
		return Meta{}, false
	}
	return meta, true
}

type eventDelegate struct {
	service *Service
}

// NotifyJoin is called when a node joins
func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	meta, ok := d.remote(node)
	if !ok {
		return
	}
	d.service.logger.Info("Member joined",
		zap.String("name", node.Name),
		zap.String("role", string(meta.Role)),
		zap.String("rpc_addr", meta.RPCAddr))
	d.service.listener.MemberJoined(meta)
}

// NotifyLeave is called when a node leaves or is declared dead
func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	meta, ok := d.remote(node)
	if !ok {
		return
	}
	d.service.logger.Info("Member left",
		zap.String("name", node.Name),
		zap.String("rpc_addr", meta.RPCAddr))
	d.service.listener.MemberLeft(meta)
}

// NotifyUpdate is called when a node is updated
func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Member updated", zap.String("name", node.Name))
}

func (d *eventDelegate) remote(node *memberlist.Node) (Meta, bool) {
	meta, ok := decodeMeta(node.Meta)
	if !ok || meta.RPCAddr == d.service.local.RPCAddr || d.service.listener == nil {
		return Meta{}, false
	}
	return meta, true
}
