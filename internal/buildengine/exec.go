package buildengine

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/chordtoll/bootstrapper/internal/chroot"
	"github.com/chordtoll/bootstrapper/internal/envsubst"
	"github.com/chordtoll/bootstrapper/internal/recipe"
	"github.com/chordtoll/bootstrapper/internal/sanitize"
	"github.com/google/shlex"
	"golang.org/x/sync/errgroup"
)

// Executor runs a recipe's build steps inside one Root, driving each
// command through cmd/chroothelper. StatusFn, if set, receives one line
// per dispatched command for progress reporting.
type Executor struct {
	Root             *Root
	ChrootHelperPath string
	Env              map[string]string
	CurDir           string
	StatusFn         func(string)

	bg errgroup.Group
}

func (e *Executor) status(format string, args ...interface{}) {
	if e.StatusFn != nil {
		e.StatusFn(fmt.Sprintf(format, args...))
	}
}

// joinAll waits for every still-running serial=false child spawned so far.
// e.bg is reusable once drained: RunStep only ever calls Go/Wait from the
// same goroutine, one at a time, so starting more background steps after a
// join is safe.
func (e *Executor) joinAll() error {
	if err := e.bg.Wait(); err != nil {
		return fmt.Errorf("buildengine: background step: %w", err)
	}
	return nil
}

// RunStep executes one build step: an in-process "cd"/env-assignment, or a
// command dispatched through chroothelper.
func (e *Executor) RunStep(step recipe.BuildStep) error {
	if step.Bash {
		return e.dispatch([]string{"bash", "-exc", step.Cmd}, step.Serial)
	}

	fields := strings.Fields(step.Cmd)
	if len(fields) > 0 {
		if k, v, ok := strings.Cut(fields[0], "="); ok {
			expandedV, err := envsubst.Substitute(v, e.Env)
			if err != nil {
				return fmt.Errorf("buildengine: env-substitute %q: %w", step.Cmd, err)
			}
			e.Env[k] = expandedV
			return nil
		}
	}

	expanded, err := envsubst.Substitute(step.Cmd, e.Env)
	if err != nil {
		return fmt.Errorf("buildengine: env-substitute %q: %w", step.Cmd, err)
	}

	args, err := shlex.Split(expanded)
	if err != nil {
		return fmt.Errorf("buildengine: shlex %q: %w", expanded, err)
	}
	if len(args) == 0 {
		return nil
	}
	if args[0] == "cd" && len(args) == 2 {
		e.CurDir = sanitize.Path(joinCurDir(e.CurDir, args[1]))
		return nil
	}
	return e.dispatch(args, step.Serial)
}

func joinCurDir(cur, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return rel
	}
	return cur + "/" + rel
}

func (e *Executor) dispatch(command []string, serial bool) error {
	e.status("%s", strings.Join(command, " "))
	argv, err := chroot.Encode(chroot.Args{
		BuildRoot: e.Root.Path,
		Chdir:     e.CurDir,
		Command:   command,
		Env:       e.Env,
	})
	if err != nil {
		return err
	}
	cmd := exec.Command(e.ChrootHelperPath, argv[0], argv[1], argv[2], argv[3])

	if serial {
		if err := e.joinAll(); err != nil {
			return err
		}
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("buildengine: step %v failed: %w\n%s", command, err, out)
		}
		return nil
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("buildengine: start step %v: %w", command, err)
	}
	e.bg.Go(func() error {
		return cmd.Wait()
	})
	return nil
}

// passSuffixRe matches the "-passN" revision suffix recipe versions may
// carry, e.g. "1.2.3-pass2".
var passSuffixRe = regexp.MustCompile(`^(.*)-pass([0-9]+)$`)

// splitPassSuffix separates a version into its base package version and
// its pass revision (0 if no -passN suffix is present, else N-1).
func splitPassSuffix(version string) (base string, revision int) {
	m := passSuffixRe.FindStringSubmatch(version)
	if m == nil {
		return version, 0
	}
	n, _ := strconv.Atoi(m[2])
	return m[1], n - 1
}
