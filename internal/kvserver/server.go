// Package kvserver drives a single client connection's read-decode-dispatch-
// write loop and the acceptor loop that spawns one such handler per
// accepted socket.
package kvserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"kvreplica/internal/command"
	"kvreplica/internal/config"
	"kvreplica/internal/replica"
	"kvreplica/internal/resp"
	"kvreplica/internal/store"
)

// readChunkSize is how many bytes Server.handleConnection reads from the
// socket per Read call.
const readChunkSize = 4096

// Server ties the sharded store, runtime configuration and replication
// fan-out together behind the accept loop.
type Server struct {
	static   *config.Static
	repl     *config.ReplState
	store    *store.Store
	registry *replica.Registry
	writeCh  chan resp.Frame
}

// New builds a Server over the given configuration and store.
func New(static *config.Static, repl *config.ReplState, st *store.Store) *Server {
	return &Server{
		static:   static,
		repl:     repl,
		store:    st,
		registry: replica.NewRegistry(),
		writeCh:  make(chan resp.Frame, 1024),
	}
}

// Serve binds the listening address and runs the accept loop until ctx is
// canceled or Accept fails for a reason other than the listener closing.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.static.Addr())
	if err != nil {
		return fmt.Errorf("kvserver: listen on %s: %w", s.static.Addr(), err)
	}
	defer ln.Close()

	log.Printf("kvserver: listening on %s", s.static.Addr())
	return s.ServeOn(ctx, ln)
}

// ServeOn runs the accept loop over an already-bound listener. Splitting
// this out of Serve lets tests bind an ephemeral port (":0") and learn the
// actual address before connecting.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	go replica.RunFanout(s.writeCh, s.registry, s.repl)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("kvserver: accept: %w", err)
			}
		}
		go s.handleConnection(conn)
	}
}

// handleConnection owns conn until EOF or until dispatch hands the socket
// off to a replica writer (PSYNC). It keeps a growable per-connection read
// buffer and compacts the consumed prefix after each decoded frame, so a
// request spanning more than one Read call is still decoded correctly
// instead of assuming a single fixed-size read always holds a whole frame.
func (s *Server) handleConnection(conn net.Conn) {
	closeOnReturn := true
	defer func() {
		if closeOnReturn {
			conn.Close()
		}
	}()

	var buf []byte
	chunk := make([]byte, readChunkSize)

	for {
		for {
			n, f, err := resp.Decode(buf)
			if errors.Is(err, resp.ErrIncomplete) {
				break
			}
			if err != nil {
				log.Printf("kvserver: malformed frame from %s: %v", conn.RemoteAddr(), err)
				return
			}
			buf = buf[n:]

			handedOff := s.dispatch(conn, f)
			if handedOff {
				closeOnReturn = false
				return
			}
		}

		buf = compact(buf)

		n, err := conn.Read(chunk)
		if n == 0 || err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
	}
}

// compact drops the already-fully-consumed prefix so a long-lived
// connection's buffer doesn't retain a growing backing array across many
// small requests: an empty buffer releases its backing array entirely,
// and a buffer sitting on a backing array much larger than what remains
// unconsumed is copied down into a right-sized one.
func compact(buf []byte) []byte {
	if len(buf) == 0 {
		return nil
	}
	if cap(buf) > 8192 && cap(buf) > len(buf)*2 {
		fresh := make([]byte, len(buf))
		copy(fresh, buf)
		return fresh
	}
	return buf
}

// dispatch recognizes and executes one command, writing its response to
// conn. It returns true if ownership of conn has been handed off to a
// newly spawned replica writer (PSYNC), in which case the caller must not
// close conn or read from it again.
func (s *Server) dispatch(conn net.Conn, f resp.Frame) (handedOff bool) {
	cmd, ok := command.Recognize(f)
	if !ok {
		s.write(conn, resp.NullBulk())
		return false
	}

	switch cmd.Kind {
	case command.Ping:
		s.write(conn, resp.SimpleStr("PONG"))

	case command.Echo:
		s.write(conn, resp.BulkFromString(cmd.Value))

	case command.Set:
		s.applySet(cmd)
		s.write(conn, resp.SimpleStr("OK"))
		s.writeCh <- f

	case command.Get:
		v, ok := s.store.Get(cmd.Key)
		if !ok {
			s.write(conn, resp.NullBulk())
			return false
		}
		s.write(conn, resp.Frame{Type: resp.BulkString, Bulk: v})

	case command.Info:
		s.handleInfo(conn, cmd)

	case command.ReplConf:
		s.write(conn, resp.SimpleStr("OK"))

	case command.Psync:
		return s.handlePsync(conn, cmd)

	default:
		s.write(conn, resp.NullBulk())
	}
	return false
}

func (s *Server) write(conn net.Conn, f resp.Frame) {
	if _, err := conn.Write(resp.Encode(f)); err != nil {
		log.Printf("kvserver: write to %s failed: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) applySet(cmd command.Command) {
	expiresAt := store.NeverExpire
	if cmd.ExpiryMS != command.NeverExpire {
		expiresAt = time.Now().UnixMilli() + cmd.ExpiryMS
	}
	s.store.Put(cmd.Key, []byte(cmd.Value), expiresAt)
}

func (s *Server) handleInfo(conn net.Conn, cmd command.Command) {
	if cmd.Section != "" && !strings.EqualFold(cmd.Section, "replication") {
		s.write(conn, resp.NullBulk())
		return
	}
	body := fmt.Sprintf("role:%s\r\nmaster_replid:%s\r\nmaster_repl_offset:%d",
		roleName(s.static.Role), s.repl.ReplID(), s.repl.Offset())
	s.write(conn, resp.BulkFromString(body))
}

// roleName maps the internal Role to the traditional replication wire
// vocabulary ("master" / "slave") that INFO replication reports.
func roleName(r config.Role) string {
	if r == config.RoleFollower {
		return "slave"
	}
	return "master"
}

// handlePsync handles only "PSYNC ? -1" (a fresh full resync request);
// anything else gets the same null-bulk fallback as an unrecognized
// command.
func (s *Server) handlePsync(conn net.Conn, cmd command.Command) (handedOff bool) {
	if cmd.ReplID != "?" || cmd.Offset != -1 {
		s.write(conn, resp.NullBulk())
		return false
	}

	line := fmt.Sprintf("+FULLRESYNC %s 0\r\n", s.repl.ReplID())
	if _, err := conn.Write([]byte(line)); err != nil {
		log.Printf("kvserver: FULLRESYNC write to %s failed: %v", conn.RemoteAddr(), err)
		return false
	}
	if _, err := conn.Write(replica.FrameSnapshot(replica.BaselineSnapshot)); err != nil {
		log.Printf("kvserver: snapshot write to %s failed: %v", conn.RemoteAddr(), err)
		return false
	}

	id, rx := s.registry.Register()
	go replica.RunWriter(conn, id, rx, s.registry)
	return true
}
