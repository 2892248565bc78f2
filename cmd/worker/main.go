// Command worker connects to a coordinator, and for each recipe it is
// handed, materialises an isolated build root, runs the recipe's build
// steps through cmd/chroothelper, and streams back the resulting
// artefact tar.
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/chordtoll/bootstrapper/internal/buildengine"
	"github.com/chordtoll/bootstrapper/internal/env"
	"github.com/chordtoll/bootstrapper/internal/fetch"
	"github.com/chordtoll/bootstrapper/internal/oninterrupt"
	"github.com/chordtoll/bootstrapper/internal/wire"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	log := logrus.New()

	var (
		connectAddr      string
		chrootHelperPath string
	)
	root := &cobra.Command{
		Use:   "worker",
		Short: "Connect to a coordinator and build the recipes it dispatches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(log, connectAddr, chrootHelperPath)
		},
	}
	root.Flags().StringVar(&connectAddr, "connect", env.ListenAddr, "coordinator address to connect to")
	root.Flags().StringVar(&chrootHelperPath, "chroothelper", defaultChrootHelperPath(), "path to the chroothelper executable")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func defaultChrootHelperPath() string {
	if exe, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(exe), "chroothelper")
	}
	return "chroothelper"
}

func run(log *logrus.Logger, connectAddr, chrootHelperPath string) error {
	conn, err := net.Dial("tcp", connectAddr)
	if err != nil {
		return fmt.Errorf("connect to coordinator at %s: %w", connectAddr, err)
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	log.Infof("session %s: connected to coordinator at %s", sessionID, connectAddr)

	w := wire.New(conn)

	for {
		if err := w.WriteStatus(wire.ReadyForWork); err != nil {
			return err
		}
		cont, err := w.ReadStatus()
		if err != nil {
			return err
		}
		if cont == wire.Status(1) {
			log.Info("coordinator signalled no more work")
			return nil
		}

		if err := buildOne(log, w, chrootHelperPath); err != nil {
			return fmt.Errorf("build: %w", err)
		}
	}
}

func buildOne(log *logrus.Logger, w *wire.Conn, chrootHelperPath string) error {
	nrv, err := w.ReadRecipe()
	if err != nil {
		return err
	}
	log.Infof("building %s:%s", nrv.Name, nrv.Version)

	_, sourceData, err := w.ReadSources()
	if err != nil {
		return err
	}
	depData, err := w.ReadDeps()
	if err != nil {
		return err
	}
	overlayData, err := w.ReadOverlays()
	if err != nil {
		return err
	}
	envs, err := w.ReadEnvs()
	if err != nil {
		return err
	}

	root, err := buildengine.NewRoot(env.RamDir)
	if err != nil {
		return err
	}
	oninterrupt.Register(func() {
		if cerr := root.Cleanup.Run(); cerr != nil {
			log.Errorf("cleanup after interrupt: %v", cerr)
		}
	})
	defer root.Cleanup.Run()

	if err := root.SetupDevices(); err != nil {
		return err
	}

	for name, raw := range sourceData {
		sd := nrv.Source[name]
		isZip := isZipMagic(raw)
		var decompressed []byte
		if !isZip {
			var derr error
			decompressed, derr = fetch.Decompress(raw)
			if derr != nil {
				return fmt.Errorf("decompress source %s: %w", name, derr)
			}
		}
		if err := root.ExtractSource(sd, decompressed, raw, isZip); err != nil {
			return fmt.Errorf("extract source %s: %w", name, err)
		}
	}

	for _, dep := range nrv.Deps {
		key := fmt.Sprintf("%s:%s", dep.Name, dep.Version)
		data, ok := depData[key]
		if !ok {
			return fmt.Errorf("missing streamed data for dependency %s", key)
		}
		if err := root.ExtractDep(dep, data); err != nil {
			return err
		}
	}

	for relPath, data := range overlayData {
		if err := root.WriteOverlay(relPath, data); err != nil {
			return err
		}
	}

	if err := root.Mkdirs(nrv.Mkdirs); err != nil {
		return err
	}

	result, err := buildengine.Build(root, nrv, envs, chrootHelperPath, func(s string) {
		log.Debug(s)
	})
	if err != nil {
		return err
	}

	return w.WriteArchive(result.Hash, result.Archive)
}

func isZipMagic(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && (b[2] == 0x03 || b[2] == 0x05 || b[2] == 0x07)
}
