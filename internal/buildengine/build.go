package buildengine

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/chordtoll/bootstrapper/internal/fetch"
	"github.com/chordtoll/bootstrapper/internal/recipe"
)

// Result is the outcome of a completed build: the artefact tar and the
// SHA-256 hex digest of its bytes (the content hash WriteArchive sends and
// the coordinator stores the equivalence hash under).
type Result struct {
	Hash    string
	Archive []byte
}

// Build executes nrv's build steps inside root and packages its declared
// artefacts into a deterministic tar. envIn is the recipe's resolved env
// file plus any caller-supplied overrides; statusFn, if non-nil, receives
// one line of progress per command dispatched through the chroot helper.
func Build(root *Root, nrv recipe.NamedRecipeVersion, envIn map[string]string, chrootHelperPath string, statusFn func(string)) (Result, error) {
	env := make(map[string]string, len(envIn))
	for k, v := range envIn {
		env[k] = v
	}

	e := &Executor{
		Root:             root,
		ChrootHelperPath: chrootHelperPath,
		Env:              env,
		CurDir:           "/",
		StatusFn:         statusFn,
	}

	if nrv.Build.Piecewise {
		if err := runPiecewise(e, nrv); err != nil {
			return Result{}, err
		}
	} else {
		for _, step := range nrv.Build.Single {
			if err := e.RunStep(step); err != nil {
				return Result{}, err
			}
		}
	}
	if err := e.joinAll(); err != nil {
		return Result{}, err
	}

	tarBytes, err := packageArtefacts(root, nrv.Artefacts)
	if err != nil {
		return Result{}, err
	}
	sum := sha256.Sum256(tarBytes)
	return Result{Hash: hex.EncodeToString(sum[:]), Archive: tarBytes}, nil
}

func runPiecewise(e *Executor, nrv recipe.NamedRecipeVersion) error {
	base, revision := splitPassSuffix(nrv.Version)
	pkg := path.Base(nrv.Name) + "-" + base
	if nrv.Build.PackageDir != "" {
		pkg = nrv.Build.PackageDir
	}
	e.Env["pkg"] = pkg
	e.Env["revision"] = fmt.Sprintf("%d", revision)

	stepsDir := "/steps/" + pkg
	e.CurDir = stepsDir
	e.Env["base_dir"] = stepsDir
	patchDir := nrv.Build.PatchDir
	if patchDir == "" {
		patchDir = "patches"
	}
	e.Env["patch_dir"] = stepsDir + "/" + patchDir
	e.Env["mk_dir"] = stepsDir + "/mk"
	e.Env["files_dir"] = stepsDir + "/files"

	if err := e.RunStep(recipe.BuildStep{Cmd: "mkdir build", Serial: true}); err != nil {
		return err
	}
	e.CurDir = stepsDir + "/build"

	for _, phase := range recipe.PiecewisePhases {
		_, unpackDeclared := nrv.Build.Phases["unpack"]
		if phase == "unpack" && !unpackDeclared && nrv.Build.UnpackDirname != "" {
			e.Env["dirname"] = nrv.Build.UnpackDirname
		}
		if err := runPhase(e, nrv, phase); err != nil {
			return fmt.Errorf("buildengine: phase %s: %w", phase, err)
		}
		if phase == "unpack" && !unpackDeclared && nrv.Build.UnpackDirname != "" {
			e.CurDir = e.CurDir + "/" + nrv.Build.UnpackDirname
		}
		if phase == "compile" {
			destdir := e.Env["DESTDIR"]
			if destdir != "" {
				if err := e.RunStep(recipe.BuildStep{Cmd: "mkdir -p " + destdir, Serial: true}); err != nil {
					return err
				}
			}
		}
	}

	e.CurDir = e.Env["DESTDIR"]
	if err := e.RunStep(recipe.BuildStep{Cmd: ". /steps/helpers.sh; src_pkg", Bash: true, Serial: true}); err != nil {
		return err
	}
	e.CurDir = "/external/repo"
	pkgStep := recipe.BuildStep{
		Cmd:    fmt.Sprintf(". /steps/helpers.sh; src_checksum %s %d", e.Env["pkg"], revision),
		Bash:   true,
		Serial: true,
	}
	return e.RunStep(pkgStep)
}

func runPhase(e *Executor, nrv recipe.NamedRecipeVersion, phase string) error {
	steps, declared := nrv.Build.Phases[phase]
	if !declared {
		return e.RunStep(defaultPhaseStep(phase))
	}
	for _, step := range steps {
		if step.IsDefault() {
			step = defaultPhaseStep(phase)
		}
		if err := e.RunStep(step); err != nil {
			return err
		}
	}
	return nil
}

func defaultPhaseStep(phase string) recipe.BuildStep {
	return recipe.BuildStep{
		Cmd:    fmt.Sprintf(". /steps/helpers.sh; default_src_%s", phase),
		Serial: true,
		Bash:   true,
	}
}

// packageArtefacts builds a deterministic tar (zeroed timestamps, symlinks
// preserved rather than followed) containing every declared artefact path
// relative to the build root, plus, when the first artefact is a
// .tar.bz2, the contents of the secondary repo tree it unpacks into.
func packageArtefacts(root *Root, artefacts []string) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, a := range artefacts {
		if err := addTarTree(tw, root.Path, a); err != nil {
			return nil, err
		}
	}

	if len(artefacts) > 0 && hasSuffix(artefacts[0], ".tar.bz2") {
		repoDir, err := unpackBz2Repo(root, artefacts[0])
		if err == nil {
			if err := addTarTree(tw, repoDir, "."); err != nil {
				return nil, err
			}
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("buildengine: close tar: %w", err)
	}
	return buf.Bytes(), nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func unpackBz2Repo(root *Root, artefact string) (string, error) {
	raw, err := os.ReadFile(root.Join(artefact))
	if err != nil {
		return "", err
	}
	tarBytes, err := fetch.Decompress(raw)
	if err != nil {
		return "", err
	}
	repoDir, err := os.MkdirTemp(root.Path, "repo-")
	if err != nil {
		return "", err
	}
	root.Cleanup.Push(func() error { return os.RemoveAll(repoDir) })
	tr := tar.NewReader(bytes.NewReader(tarBytes))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		target := filepath.Join(repoDir, hdr.Name)
		if hdr.Typeflag == tar.TypeDir {
			os.MkdirAll(target, 0755)
			continue
		}
		os.MkdirAll(filepath.Dir(target), 0755)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	return repoDir, nil
}

// addTarTree walks relPath (a file, or "." for an entire directory) under
// baseDir and adds every entry to tw with a zeroed timestamp, so that tars
// built from identical content are byte-identical regardless of when the
// build ran.
func addTarTree(tw *tar.Writer, baseDir, relPath string) error {
	full := filepath.Join(baseDir, relPath)
	return filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.ModTime = time.Unix(0, 0)
		hdr.AccessTime = time.Time{}
		hdr.ChangeTime = time.Time{}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""

		if info.Mode()&os.ModeSymlink != 0 {
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = link
			return tw.WriteHeader(hdr)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
