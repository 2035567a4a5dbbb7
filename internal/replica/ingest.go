package replica

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"kvreplica/internal/command"
	"kvreplica/internal/config"
	"kvreplica/internal/resp"
	"kvreplica/internal/store"
)

// connReader accumulates bytes read from conn into a growable buffer and
// decodes frames out of it one at a time, preserving unread tail bytes
// across read calls so a frame spanning a read boundary is handled
// correctly.
type connReader struct {
	conn net.Conn
	buf  []byte
}

func newConnReader(conn net.Conn) *connReader {
	return &connReader{conn: conn}
}

func (r *connReader) fill() error {
	tmp := make([]byte, 4096)
	n, err := r.conn.Read(tmp)
	if n > 0 {
		r.buf = append(r.buf, tmp[:n]...)
	}
	if n == 0 && err == nil {
		return fmt.Errorf("replica: read zero bytes without error")
	}
	return err
}

// decodeFrame decodes the next frame from the buffer, reading more from
// the socket whenever the decoder reports it needs more bytes. It returns
// the number of bytes the decoded frame consumed.
func (r *connReader) decodeFrame() (n int, f resp.Frame, err error) {
	for {
		n, f, err = resp.Decode(r.buf)
		if err == resp.ErrIncomplete {
			if ferr := r.fill(); ferr != nil {
				return 0, resp.Frame{}, ferr
			}
			continue
		}
		if err != nil {
			return 0, resp.Frame{}, err
		}
		r.buf = r.buf[n:]
		return n, f, nil
	}
}

// readSnapshot consumes the PSYNC baseline snapshot framing: "$<len>\r\n"
// followed by exactly len raw bytes, with no trailing CRLF. This is not a
// conforming bulk string, so it is parsed here instead of through the
// general-purpose frame decoder.
func (r *connReader) readSnapshot() ([]byte, error) {
	var headerLen, length int
	for {
		idx := bytes.Index(r.buf, []byte("\r\n"))
		if idx == -1 {
			if err := r.fill(); err != nil {
				return nil, err
			}
			continue
		}
		if len(r.buf) == 0 || r.buf[0] != '$' {
			return nil, fmt.Errorf("replica: expected snapshot bulk header, got %q", r.buf[:idx])
		}
		n, err := strconv.Atoi(string(r.buf[1:idx]))
		if err != nil {
			return nil, fmt.Errorf("replica: invalid snapshot length: %w", err)
		}
		length = n
		headerLen = idx + 2
		break
	}

	total := headerLen + length
	for len(r.buf) < total {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
	payload := append([]byte(nil), r.buf[headerLen:total]...)
	r.buf = r.buf[total:]
	return payload, nil
}

func expectSimpleString(r *connReader, step, want string) error {
	_, f, err := r.decodeFrame()
	if err != nil {
		return fmt.Errorf("replica: %s: %w", step, err)
	}
	if f.Type != resp.SimpleString || f.Str != want {
		return fmt.Errorf("replica: %s: expected +%s, got %+v", step, want, f)
	}
	return nil
}

// runHandshake drives the follower-initiated handshake state machine:
// PING, REPLCONF listening-port, REPLCONF capa psync2, PSYNC ? -1. Any
// deviation from the expected response is a fatal handshake failure —
// there is no retry.
func runHandshake(conn net.Conn, listeningPort int, repl *config.ReplState) (*connReader, error) {
	r := newConnReader(conn)

	if _, err := conn.Write(resp.Encode(command.BuildPing())); err != nil {
		return nil, fmt.Errorf("replica: H1 PING: %w", err)
	}
	if err := expectSimpleString(r, "H1 PING", "pong"); err != nil {
		return nil, err
	}

	port := strconv.Itoa(listeningPort)
	if _, err := conn.Write(resp.Encode(command.BuildReplConf("listening-port", port))); err != nil {
		return nil, fmt.Errorf("replica: H2 REPLCONF listening-port: %w", err)
	}
	if err := expectSimpleString(r, "H2 REPLCONF listening-port", "ok"); err != nil {
		return nil, err
	}

	if _, err := conn.Write(resp.Encode(command.BuildReplConf("capa", "psync2"))); err != nil {
		return nil, fmt.Errorf("replica: H3 REPLCONF capa: %w", err)
	}
	if err := expectSimpleString(r, "H3 REPLCONF capa", "ok"); err != nil {
		return nil, err
	}

	if _, err := conn.Write(resp.Encode(command.BuildPsync("?", -1))); err != nil {
		return nil, fmt.Errorf("replica: H4 PSYNC: %w", err)
	}
	_, f, err := r.decodeFrame()
	if err != nil {
		return nil, fmt.Errorf("replica: H4 PSYNC: %w", err)
	}
	fr, ok := command.Recognize(f)
	if !ok || fr.Kind != command.FullReSync {
		return nil, fmt.Errorf("replica: H4 PSYNC: unexpected reply %+v", f)
	}
	if _, err := r.readSnapshot(); err != nil {
		return nil, fmt.Errorf("replica: H4 snapshot: %w", err)
	}

	repl.SetReplID(fr.ReplID)
	repl.SetOffset(fr.Offset)
	return r, nil
}

// RunIngest is started unconditionally by main regardless of role; it is a
// no-op unless role is RoleFollower. For a follower it connects to the
// leader at addr, performs the replication handshake, then tails the
// replicated command stream indefinitely, applying Set commands silently
// to st and answering REPLCONF GETACK probes. It returns only on a fatal
// I/O error or handshake failure; there is no retry once replication
// fails.
func RunIngest(role config.Role, addr string, listeningPort int, repl *config.ReplState, st *store.Store) error {
	if role != config.RoleFollower {
		return nil
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("replica: dial leader %s: %w", addr, err)
	}
	defer conn.Close()

	r, err := runHandshake(conn, listeningPort, repl)
	if err != nil {
		return err
	}

	return runTailing(conn, r, repl, st)
}

func runTailing(conn net.Conn, r *connReader, repl *config.ReplState, st *store.Store) error {
	for {
		n, f, err := r.decodeFrame()
		if err != nil {
			return fmt.Errorf("replica: tailing: %w", err)
		}
		repl.AddOffset(int64(n))

		cmd, ok := command.Recognize(f)
		if !ok {
			continue
		}

		switch cmd.Kind {
		case command.Set:
			applySet(st, cmd)
		case command.ReplConf:
			if strings.EqualFold(cmd.ReplConfKey, "getack") {
				ack := command.BuildReplConfAck(repl.Offset())
				if _, err := conn.Write(resp.Encode(ack)); err != nil {
					return fmt.Errorf("replica: ACK write: %w", err)
				}
			}
		default:
			// no-op: every other replicated command is ignored during tailing.
		}
	}
}

func applySet(st *store.Store, cmd command.Command) {
	expiresAt := store.NeverExpire
	if cmd.ExpiryMS != command.NeverExpire {
		expiresAt = time.Now().UnixMilli() + cmd.ExpiryMS
	}
	st.Put(cmd.Key, []byte(cmd.Value), expiresAt)
}
