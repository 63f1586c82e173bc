// Package rclient implements the intra-cluster client of SPEC_FULL.md §6
// "Intra-cluster client": a small TCP client/server pair, built on
// internal/wire's framing, that forwards one command to a shard's current
// Raft leader and surfaces types.NotLeaderError redirects back to the
// caller. It also carries the out-of-band CLUSTER_ADD_VOTER request a
// joining node's raftnode.JoinFunc uses to ask the leader's raftnode.Node
// to admit it.
package rclient

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvraft/kvraft/internal/types"
	"github.com/kvraft/kvraft/internal/wire"
	"github.com/rs/zerolog"
)

// ConnState is the client connection's lifecycle state.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 5 * time.Second

// Client is a persistent connection to one shard peer, reconnecting once
// per call on a transport error before surfacing it to the caller.
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu    sync.Mutex
	conn  net.Conn
	state int32
}

func NewClient(addr string) *Client {
	return &Client{addr: addr, dialTimeout: DefaultDialTimeout, state: int32(Disconnected)}
}

// State reports the client's current connection state.
func (c *Client) State() ConnState { return ConnState(atomic.LoadInt32(&c.state)) }

func (c *Client) setState(s ConnState) { atomic.StoreInt32(&c.state, int32(s)) }

func (c *Client) ensureConn() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	c.setState(Connecting)
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		c.setState(Disconnected)
		return nil, fmt.Errorf("rclient: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.setState(Connected)
	return conn, nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.setState(Reconnecting)
}

// Do forwards cmd to the peer and returns its reply, reconnecting once on
// a transport-level failure before giving up.
func (c *Client) Do(cmd types.Command) (types.Reply, error) {
	reply, err := c.doOnce(cmd)
	if err != nil {
		c.dropConn()
		reply, err = c.doOnce(cmd)
	}
	if err != nil {
		c.setState(Disconnected)
		return types.Reply{}, err
	}
	return reply, nil
}

func (c *Client) doOnce(cmd types.Command) (types.Reply, error) {
	conn, err := c.ensureConn()
	if err != nil {
		return types.Reply{}, err
	}
	if err := wire.WriteFrame(conn, wire.MsgCommand, wire.EncodeCommand(cmd)); err != nil {
		return types.Reply{}, fmt.Errorf("rclient: write command: %w", err)
	}
	typ, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return types.Reply{}, fmt.Errorf("rclient: read reply: %w", err)
	}
	if typ != wire.MsgReply {
		return types.Reply{}, fmt.Errorf("rclient: unexpected frame type %d", typ)
	}
	return wire.DecodeReply(payload)
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.setState(Disconnected)
	return err
}

// ClusterAddVoterVerb is the admin verb a joining node sends to the
// current leader to request admission as a Raft voter.
const ClusterAddVoterVerb = "CLUSTER_ADD_VOTER"

// JoinViaClient implements raftnode.JoinFunc by sending a
// CLUSTER_ADD_VOTER request to leaderAddr over the intra-cluster wire
// protocol. The receiving node's Dispatcher is expected to route this
// verb to its raftnode.Node.AddVoter.
func JoinViaClient(leaderAddr, nodeID, bindAddr string) error {
	c := NewClient(leaderAddr)
	defer c.Close()

	reply, err := c.Do(types.Command{
		Verb: ClusterAddVoterVerb,
		Args: [][]byte{[]byte(nodeID), []byte(bindAddr)},
	})
	if err != nil {
		return err
	}
	if reply.Kind == types.ReplyError {
		return fmt.Errorf("rclient: join rejected: %s", reply.ErrMsg)
	}
	return nil
}

// Dispatcher is the server-side hook invoked for each command a peer
// forwards; callers wire this to the shard router or the local engine.
type Dispatcher func(cmd types.Command) (types.Reply, error)

// Server accepts connections and serves forwarded commands through
// Dispatcher, one goroutine per connection, until Listener closes.
type Server struct {
	ln       net.Listener
	dispatch Dispatcher
	logger   zerolog.Logger
}

func NewServer(ln net.Listener, dispatch Dispatcher, logger zerolog.Logger) *Server {
	return &Server{ln: ln, dispatch: dispatch, logger: logger}
}

// Serve blocks accepting connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		typ, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if typ != wire.MsgCommand {
			s.logger.Warn().Int("type", int(typ)).Msg("rclient: unexpected frame type")
			return
		}
		cmd, err := wire.DecodeCommand(payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("rclient: decode command")
			return
		}

		reply, err := s.dispatch(cmd)
		if err != nil && reply.Kind != types.ReplyError {
			reply = types.ReplyFromError(err)
		}
		if err := wire.WriteFrame(conn, wire.MsgReply, wire.EncodeReply(reply)); err != nil {
			return
		}
	}
}
