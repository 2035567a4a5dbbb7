// Package config parses the recognized command-line flags and holds the
// runtime configuration: an immutable startup record (role, listening
// port, leader address) and a small mutable replication record (replid,
// repl_offset), split apart per the "global mutable configuration" note —
// most fields never change after the handshake, so only the replication
// record needs its own guard.
package config

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Role is the server's replication role.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// Static holds the configuration fixed for the lifetime of the process:
// everything resolved from flags/environment at startup.
type Static struct {
	Port       int
	LeaderHost string
	LeaderPort int
	Role       Role
}

// Addr returns the loopback listening address for the configured port.
func (s *Static) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.Port)
}

// LeaderAddr returns host:port for the configured leader, valid only when
// Role == RoleFollower.
func (s *Static) LeaderAddr() string {
	return fmt.Sprintf("%s:%d", s.LeaderHost, s.LeaderPort)
}

// BindFlags registers the recognized flags ("--port", "--replicaof") on
// cmd, following the spf13/cobra + pflag + viper stack. --replicaof is
// modeled as two pflag-bound values (host, port) because pflag has no
// native two-token single-flag shape; main rewrites a literal
// "--replicaof <host> <port>" argv pair into the two long-form flags
// before cobra parses argv, so the CLI still accepts that exact
// two-token form from the command line.
func BindFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("port", 6379, "TCP port to listen on")
	flags.String("replicaof-host", "", "leader host to replicate from")
	flags.Int("replicaof-port", 0, "leader port to replicate from")

	bindViper(flags)
}

func bindViper(flags *pflag.FlagSet) {
	viper.BindPFlag("port", flags.Lookup("port"))
	viper.BindPFlag("replicaof_host", flags.Lookup("replicaof-host"))
	viper.BindPFlag("replicaof_port", flags.Lookup("replicaof-port"))

	viper.SetEnvPrefix("kvr")
	viper.AutomaticEnv()
}

// ResolveStatic reads the bound flags/environment into a Static
// configuration. A non-zero replicaof-port puts the server in
// RoleFollower.
func ResolveStatic() *Static {
	cfg := &Static{
		Port:       viper.GetInt("port"),
		LeaderHost: viper.GetString("replicaof_host"),
		LeaderPort: viper.GetInt("replicaof_port"),
		Role:       RoleLeader,
	}
	if cfg.LeaderPort != 0 {
		cfg.Role = RoleFollower
	}
	return cfg
}

// RewriteReplicaofArgs rewrites a single "--replicaof <host> <port>" triple
// found anywhere in args into "--replicaof-host=<host>
// --replicaof-port=<port>", the two-flag form BindFlags registers. This is
// the one piece of argv pre-processing cobra/pflag can't express natively,
// kept deliberately small and isolated at the process-bootstrap boundary.
func RewriteReplicaofArgs(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] != "--replicaof" {
			out = append(out, args[i])
			continue
		}
		if i+2 >= len(args) {
			return nil, fmt.Errorf("--replicaof requires <host> <port>")
		}
		host := args[i+1]
		portStr := args[i+2]
		if _, err := strconv.Atoi(portStr); err != nil {
			return nil, fmt.Errorf("--replicaof port must be numeric: %w", err)
		}
		out = append(out, "--replicaof-host="+host, "--replicaof-port="+portStr)
		i += 2
	}
	return out, nil
}

// ReplState is the small mutable record updated during and after the
// replication handshake: replid and repl_offset. It is guarded
// independently from Static because, unlike Static, both fields legitimately
// change at runtime (offset on every replicated write; replid once, on a
// follower's full resync).
type ReplState struct {
	mu         sync.RWMutex
	replID     string
	replOffset int64
}

// NewReplState builds the initial replication state for role: a leader
// generates its replid immediately; a follower starts with the "?"
// placeholder it sends in its first PSYNC request, later overwritten by
// the leader's replid during the handshake.
func NewReplState(role Role) *ReplState {
	if role == RoleFollower {
		return &ReplState{replID: "?"}
	}
	return &ReplState{replID: generateReplID()}
}

// generateReplID returns a 40-character hex replication id, the same
// length and alphabet real Redis replids use.
func generateReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%040x", 0)
	}
	return fmt.Sprintf("%x", b)
}

// ReplID returns the current replication id.
func (r *ReplState) ReplID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replID
}

// SetReplID overwrites the replication id, used when a follower adopts the
// leader's id on a successful handshake (PSYNC step H4).
func (r *ReplState) SetReplID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replID = id
}

// Offset returns the current replication offset.
func (r *ReplState) Offset() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replOffset
}

// SetOffset sets the replication offset directly, used when a follower
// adopts the leader's starting offset on a full resync.
func (r *ReplState) SetOffset(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replOffset = offset
}

// AddOffset advances the replication offset by delta bytes and returns the
// new value. Used by the leader (bytes of each fanned-out command) and by
// the follower (bytes consumed while tailing).
func (r *ReplState) AddOffset(delta int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replOffset += delta
	return r.replOffset
}
