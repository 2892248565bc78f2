// Command cachefs mounts a read-only FUSE view of a build cache's
// build-cache/build tree, so a human can browse and cat cached artefacts
// by their equivalence hash without walking the on-disk hash-prefix
// sharding by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/chordtoll/bootstrapper/internal/env"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log := logrus.New()

	root := &cobra.Command{
		Use:   "cachefs <mountpoint>",
		Short: "Mount a read-only view of the build cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log, args[0])
		},
	}

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(log *logrus.Logger, mountpoint string) error {
	buildCacheDir := filepath.Join(env.BuildRoot, "build-cache", "build")

	fs, err := newCacheFS(buildCacheDir)
	if err != nil {
		return fmt.Errorf("cachefs: scan %s: %w", buildCacheDir, err)
	}
	server := fuseutil.NewFileSystemServer(fs)

	mfs, err := fuse.Mount(mountpoint, server, &fuse.MountConfig{
		FSName:   "bootstrapper-cache",
		ReadOnly: true,
	})
	if err != nil {
		return fmt.Errorf("cachefs: mount %s: %w", mountpoint, err)
	}
	log.Infof("mounted cache at %s", mountpoint)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		if err := fuse.Unmount(mountpoint); err != nil {
			log.Errorf("unmount %s: %v", mountpoint, err)
		}
	}()

	return mfs.Join(context.Background())
}
