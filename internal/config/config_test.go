package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteReplicaofArgs(t *testing.T) {
	out, err := RewriteReplicaofArgs([]string{"--port", "6380", "--replicaof", "localhost", "6379"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--port", "6380", "--replicaof-host=localhost", "--replicaof-port=6379"}, out)
}

func TestRewriteReplicaofArgsMissingValues(t *testing.T) {
	_, err := RewriteReplicaofArgs([]string{"--replicaof", "localhost"})
	assert.Error(t, err)
}

func TestRewriteReplicaofArgsNonNumericPort(t *testing.T) {
	_, err := RewriteReplicaofArgs([]string{"--replicaof", "localhost", "notaport"})
	assert.Error(t, err)
}

func TestReplStateLeaderGeneratesReplID(t *testing.T) {
	rs := NewReplState(RoleLeader)
	assert.Len(t, rs.ReplID(), 40)
	assert.Equal(t, int64(0), rs.Offset())
}

func TestReplStateFollowerStartsUnknown(t *testing.T) {
	rs := NewReplState(RoleFollower)
	assert.Equal(t, "?", rs.ReplID())
}

func TestReplStateAddOffsetMonotonic(t *testing.T) {
	rs := NewReplState(RoleLeader)
	assert.Equal(t, int64(10), rs.AddOffset(10))
	assert.Equal(t, int64(25), rs.AddOffset(15))
}

func TestStaticAddr(t *testing.T) {
	s := &Static{Port: 6379}
	assert.Equal(t, "127.0.0.1:6379", s.Addr())
}
