package gossip

import (
	"testing"

	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pb "github.com/devrev/pairdb/pkg/proto"
)

type recordingListener struct {
	joined []Meta
	left   []Meta
}

func (l *recordingListener) MemberJoined(meta Meta) { l.joined = append(l.joined, meta) }
func (l *recordingListener) MemberLeft(meta Meta)   { l.left = append(l.left, meta) }

func TestEventsAreForwardedForRemoteMembers(t *testing.T) {
	listener := &recordingListener{}
	local := Meta{Role: pb.RoleCoordinator, RPCAddr: "10.0.0.1:9090"}
	s := newService(local, listener, zap.NewNop())
	events := &eventDelegate{service: s}

	remote := Meta{Role: pb.RoleStorageNode, RPCAddr: "10.0.0.2:9091"}
	remoteNode := &memberlist.Node{Name: "node-2", Meta: metaBytes(t, s, remote)}
	selfNode := &memberlist.Node{Name: "coord-1", Meta: s.NodeMeta(512)}

	events.NotifyJoin(remoteNode)
	events.NotifyJoin(selfNode)
	events.NotifyJoin(&memberlist.Node{Name: "garbage", Meta: []byte("{")})
	events.NotifyLeave(remoteNode)

	assert.Equal(t, []Meta{remote}, listener.joined)
	assert.Equal(t, []Meta{remote}, listener.left)
}

func TestNodeMetaRespectsLimit(t *testing.T) {
	s := newService(Meta{Role: pb.RoleStorageNode, RPCAddr: "10.0.0.2:9091"}, nil, zap.NewNop())
	assert.Nil(t, s.NodeMeta(4))

	meta, ok := decodeMeta(s.NodeMeta(512))
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:9091", meta.RPCAddr)
}

func metaBytes(t *testing.T, s *Service, meta Meta) []byte {
	t.Helper()
	other := newService(meta, nil, s.logger)
	data := other.NodeMeta(512)
	require.NotEmpty(t, data)
	return data
}
