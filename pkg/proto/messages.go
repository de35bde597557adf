package proto

import (
	"github.com/devrev/pairdb/pkg/clock"
	"github.com/devrev/pairdb/pkg/hashring"
)

// Role identifies the sender of a KeepAlive.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleStorageNode Role = "storage-node"
)

type KeepAliveRequest struct {
	Addr  string      `json:"addr"`
	Role  Role        `json:"role"`
	Clock clock.Clock `json:"clock"`
}

type KeepAliveResponse struct {
	Clock clock.Clock `json:"clock"`
}

// HashSpaceSyncRequest pushes both rings to a peer. Each ring is merged
// independently by the receiver.
type HashSpaceSyncRequest struct {
	From  string        `json:"from"`
	Write hashring.Seed `json:"write"`
	Read  hashring.Seed `json:"read"`
	Clock clock.Clock   `json:"clock"`
}

// HashSpaceSyncResponse reports Accepted=false when both rings were obsolete.
type HashSpaceSyncResponse struct {
	Accepted bool        `json:"accepted"`
	Clock    clock.Clock `json:"clock"`
}

type HashSpaceRequest struct {
	Clock clock.Clock `json:"clock"`
}

type HashSpaceResponse struct {
	Write hashring.Seed `json:"write"`
	Read  hashring.Seed `json:"read"`
	Clock clock.Clock   `json:"clock"`
}

type ReplaceElectionRequest struct {
	From  string        `json:"from"`
	Seed  hashring.Seed `json:"seed"`
	Clock clock.Clock   `json:"clock"`
}

// ReplaceElectionResponse is Accepted when the receiver drives the rebalance.
type ReplaceElectionResponse struct {
	Accepted bool        `json:"accepted"`
	Clock    clock.Clock `json:"clock"`
}

// ReplaceStartRequest carries CopyStart and DeleteStart.
type ReplaceStartRequest struct {
	Coordinator string          `json:"coordinator"`
	Seed        hashring.Seed   `json:"seed"`
	Epoch       clock.Timestamp `json:"epoch"`
	Clock       clock.Clock     `json:"clock"`
}

type ReplaceStartResponse struct {
	Accepted bool `json:"accepted"`
}

// ReplaceEndRequest carries CopyEnd and DeleteEnd.
type ReplaceEndRequest struct {
	Addr  string          `json:"addr"`
	Epoch clock.Timestamp `json:"epoch"`
	Clock clock.Clock     `json:"clock"`
}

type ReplaceEndResponse struct {
	Accepted bool `json:"accepted"`
}

type StartReplaceRequest struct{}

type StartReplaceResponse struct {
	Started bool            `json:"started"`
	Epoch   clock.Timestamp `json:"epoch"`
}

type ListNodesRequest struct{}

type ListNodesResponse struct {
	Write     hashring.Seed   `json:"write"`
	Read      hashring.Seed   `json:"read"`
	Joined    []string        `json:"joined"`
	Newcomers []string        `json:"newcomers"`
	Phase     string          `json:"phase"`
	Epoch     clock.Timestamp `json:"epoch"`
	Remaining []string        `json:"remaining"`
}

type GetRequest struct {
	Key []byte `json:"key"`
}

type GetResponse struct {
	Found     bool            `json:"found"`
	Value     []byte          `json:"value,omitempty"`
	Timestamp clock.Timestamp `json:"timestamp"`
}

// SetRequest writes a value. Timestamp is assigned by the first node when zero.
// Forwarded marks copies sent by a replica to its peers.
type SetRequest struct {
	Key       []byte          `json:"key"`
	Value     []byte          `json:"value"`
	Timestamp clock.Timestamp `json:"timestamp"`
	Forwarded bool            `json:"forwarded"`
}

type SetResponse struct {
	Timestamp clock.Timestamp `json:"timestamp"`
}

type DeleteRequest struct {
	Key       []byte          `json:"key"`
	Timestamp clock.Timestamp `json:"timestamp"`
	Forwarded bool            `json:"forwarded"`
}

type DeleteResponse struct {
	Timestamp clock.Timestamp `json:"timestamp"`
}
