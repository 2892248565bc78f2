// Command coordinator discovers a recipe tree, walks its dependency graph
// leaf-first, and dispatches the builds that aren't already cached to a
// connecting worker.
package main

import (
	"fmt"
	"net"

	"github.com/chordtoll/bootstrapper/internal/cache"
	"github.com/chordtoll/bootstrapper/internal/coordinator"
	"github.com/chordtoll/bootstrapper/internal/env"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log := logrus.New()

	var listenAddr string
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Schedule and dispatch recipe builds to a worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log, listenAddr)
		},
	}
	root.Flags().StringVar(&listenAddr, "listen", env.ListenAddr, "address to listen for a worker connection on")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(log *logrus.Logger, listenAddr string) error {
	store, err := cache.Open(env.BuildRoot)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()

	co, err := coordinator.New(env.BuildRoot, store, log)
	if err != nil {
		return fmt.Errorf("discover recipes: %w", err)
	}

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	defer listener.Close()

	log.Infof("waiting for worker on %s", listenAddr)
	conn, err := listener.Accept()
	if err != nil {
		return fmt.Errorf("accept worker: %w", err)
	}
	defer conn.Close()

	if err := co.Run(conn); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
