package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kvreplica/internal/config"
	"kvreplica/internal/kvserver"
	"kvreplica/internal/replica"
	"kvreplica/internal/store"
)

func main() {
	args, err := config.RewriteReplicaofArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("kvreplica: %v", err)
	}

	cmd := &cobra.Command{
		Use:           "kvreplica-server",
		Short:         "An in-memory key-value server with leader/follower replication",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run()
		},
	}
	config.BindFlags(cmd)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		log.Fatalf("kvreplica: %v", err)
	}
}

func run() error {
	static := config.ResolveStatic()
	repl := config.NewReplState(static.Role)
	st := store.New()
	srv := kvserver.New(static, repl, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("kvreplica: shutting down")
		cancel()
	}()

	go func() {
		if err := replica.RunIngest(static.Role, static.LeaderAddr(), static.Port, repl, st); err != nil {
			log.Printf("kvreplica: replication ingest stopped: %v", err)
		}
	}()

	if err := srv.Serve(ctx); err != nil {
		log.Fatalf("kvreplica: %v", err)
	}
	return nil
}
