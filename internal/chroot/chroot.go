// Package chroot implements the argv encoding shared between the worker's
// per-command dispatch and the cmd/chroothelper binary it execs: the
// worker serialises (build root, chdir, command vector, environment map)
// as four URL-safe-base64 blobs, and chroothelper decodes them back.
package chroot

import (
	"encoding/base64"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Args is the fully-decoded invocation chroothelper runs.
type Args struct {
	BuildRoot string
	Chdir     string
	Command   []string
	Env       map[string]string
}

// Encode renders a to the four positional CLI arguments chroothelper
// expects, in order: build root, chdir, command vector, env map.
func Encode(a Args) ([4]string, error) {
	cmdYAML, err := yaml.Marshal(a.Command)
	if err != nil {
		return [4]string{}, fmt.Errorf("chroot: marshal command: %w", err)
	}
	envYAML, err := yaml.Marshal(a.Env)
	if err != nil {
		return [4]string{}, fmt.Errorf("chroot: marshal env: %w", err)
	}
	enc := base64.URLEncoding
	return [4]string{
		enc.EncodeToString([]byte(a.BuildRoot)),
		enc.EncodeToString([]byte(a.Chdir)),
		enc.EncodeToString(cmdYAML),
		enc.EncodeToString(envYAML),
	}, nil
}

// Decode parses the four positional arguments chroothelper is invoked
// with back into Args.
func Decode(argv [4]string) (Args, error) {
	enc := base64.URLEncoding
	buildRoot, err := enc.DecodeString(argv[0])
	if err != nil {
		return Args{}, fmt.Errorf("chroot: decode build root: %w", err)
	}
	chdir, err := enc.DecodeString(argv[1])
	if err != nil {
		return Args{}, fmt.Errorf("chroot: decode chdir: %w", err)
	}
	cmdYAML, err := enc.DecodeString(argv[2])
	if err != nil {
		return Args{}, fmt.Errorf("chroot: decode command: %w", err)
	}
	envYAML, err := enc.DecodeString(argv[3])
	if err != nil {
		return Args{}, fmt.Errorf("chroot: decode env: %w", err)
	}
	var cmd []string
	if err := yaml.Unmarshal(cmdYAML, &cmd); err != nil {
		return Args{}, fmt.Errorf("chroot: unmarshal command: %w", err)
	}
	var env map[string]string
	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return Args{}, fmt.Errorf("chroot: unmarshal env: %w", err)
	}
	return Args{
		BuildRoot: string(buildRoot),
		Chdir:     string(chdir),
		Command:   cmd,
		Env:       env,
	}, nil
}
