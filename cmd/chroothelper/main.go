// Command chroothelper is the tiny privileged executable the worker execs
// once per build step: it chroots into the build root, chdirs to the
// step's working directory, and execs the step's command with its
// resolved environment.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/chordtoll/bootstrapper/internal/chroot"
)

func main() {
	if len(os.Args) != 5 {
		fmt.Fprintln(os.Stderr, "usage: chroothelper <buildroot-b64> <chdir-b64> <command-b64> <env-b64>")
		os.Exit(2)
	}

	args, err := chroot.Decode([4]string{os.Args[1], os.Args[2], os.Args[3], os.Args[4]})
	if err != nil {
		fmt.Fprintln(os.Stderr, "chroothelper:", err)
		os.Exit(1)
	}

	if err := syscall.Chroot(args.BuildRoot); err != nil {
		fmt.Fprintln(os.Stderr, "chroothelper: chroot:", err)
		os.Exit(1)
	}
	if err := os.Chdir("/"); err != nil {
		fmt.Fprintln(os.Stderr, "chroothelper: chdir /:", err)
		os.Exit(1)
	}
	if err := os.Chdir(args.Chdir); err != nil {
		fmt.Fprintln(os.Stderr, "chroothelper: chdir:", err)
		os.Exit(1)
	}

	if len(args.Command) == 0 {
		fmt.Fprintln(os.Stderr, "chroothelper: empty command")
		os.Exit(1)
	}

	env := make([]string, 0, len(args.Env))
	for k, v := range args.Env {
		env = append(env, k+"="+v)
	}

	cmd := exec.Command(args.Command[0], args.Command[1:]...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "chroothelper: exec:", err)
		os.Exit(1)
	}
}
