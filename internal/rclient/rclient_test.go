package rclient

import (
	"net"
	"testing"

	"github.com/kvraft/kvraft/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, dispatch Dispatcher) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(ln, dispatch, zerolog.Nop())
	go srv.Serve()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestClientServerRoundTrip(t *testing.T) {
	addr := startServer(t, func(cmd types.Command) (types.Reply, error) {
		if cmd.Verb == "GET" {
			return types.Bulk([]byte("v1")), nil
		}
		return types.Simple("OK"), nil
	})

	c := NewClient(addr)
	defer c.Close()

	reply, err := c.Do(types.Command{Verb: "GET", Args: [][]byte{[]byte("k")}})
	require.NoError(t, err)
	assert.Equal(t, "v1", string(reply.Bulk))
	assert.Equal(t, Connected, c.State())
}

func TestClientSurfacesNotLeaderError(t *testing.T) {
	addr := startServer(t, func(cmd types.Command) (types.Reply, error) {
		err := types.NotLeaderError("127.0.0.1:9999")
		return types.ReplyFromError(err), err
	})

	c := NewClient(addr)
	defer c.Close()

	reply, err := c.Do(types.Command{Verb: "SET", Args: [][]byte{[]byte("k"), []byte("v")}})
	require.NoError(t, err)
	assert.Equal(t, types.ReplyError, reply.Kind)
	assert.Equal(t, types.KindNotLeader, reply.ErrKind)
	assert.Contains(t, reply.ErrMsg, "127.0.0.1:9999")
}

func TestJoinViaClientSendsAddVoterRequest(t *testing.T) {
	var gotVerb string
	var gotArgs []string
	addr := startServer(t, func(cmd types.Command) (types.Reply, error) {
		gotVerb = cmd.Verb
		for _, a := range cmd.Args {
			gotArgs = append(gotArgs, string(a))
		}
		return types.Simple("OK"), nil
	})

	require.NoError(t, JoinViaClient(addr, "node-2", "127.0.0.1:7000"))
	assert.Equal(t, ClusterAddVoterVerb, gotVerb)
	assert.Equal(t, []string{"node-2", "127.0.0.1:7000"}, gotArgs)
}

func TestClientReconnectsAfterServerRestart(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	srv := NewServer(ln, func(cmd types.Command) (types.Reply, error) {
		return types.Simple("OK"), nil
	}, zerolog.Nop())
	go srv.Serve()

	c := NewClient(addr)
	defer c.Close()

	_, err = c.Do(types.Command{Verb: "PING"})
	require.NoError(t, err)

	require.NoError(t, ln.Close())

	ln2, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer ln2.Close()
	srv2 := NewServer(ln2, func(cmd types.Command) (types.Reply, error) {
		return types.Simple("OK"), nil
	}, zerolog.Nop())
	go srv2.Serve()

	_, err = c.Do(types.Command{Verb: "PING"})
	require.NoError(t, err)
	assert.Equal(t, Connected, c.State())
}
