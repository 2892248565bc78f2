// Package env captures details about the coordinator/worker's on-disk
// environment: the root directory holding recipes/, sources.yaml,
// build-cache/ and equiv.sled, and the RAM-backed scratch directory
// builds execute under.
package env

import "os"

// BuildRoot is the directory containing recipes/, sources.yaml,
// build-cache/ and equiv.sled. Overridable for tests and multi-checkout
// setups.
var BuildRoot = findBuildRoot()

func findBuildRoot() string {
	if v := os.Getenv("BUILDROOT"); v != "" {
		return v
	}
	return "."
}

// RamDir is the parent directory of per-build scratch directories. It is
// expected to be a RAM-backed filesystem (e.g. a tmpfs mount).
var RamDir = findRamDir()

func findRamDir() string {
	if v := os.Getenv("RAMDIR"); v != "" {
		return v
	}
	return "ramdir"
}

// ListenAddr is the TCP address the coordinator listens on and the worker
// connects to.
var ListenAddr = findListenAddr()

func findListenAddr() string {
	if v := os.Getenv("BUILDER_ADDR"); v != "" {
		return v
	}
	return "127.0.0.1:1234"
}
