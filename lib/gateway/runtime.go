// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const versionTimeout = 5 * time.Second

// version is a parsed "vMAJOR.MINOR.PATCH" runtime version. Missing
// components are zero.
type version [3]int

// parseVersion accepts "v22.4.0", "22.4.0", or "v22". It fails only when
// the major component is not a number.
func parseVersion(text string) (version, bool) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "v")
	var parsed version
	for i, part := range strings.SplitN(text, ".", 3) {
		number, err := strconv.Atoi(part)
		if err != nil {
			if i == 0 {
				return version{}, false
			}
			break
		}
		parsed[i] = number
	}
	return parsed, true
}

func (v version) major() int { return v[0] }

// resolveRuntime finds a node binary whose major version is at least
// minMajor. The node on searchPath wins if it qualifies; otherwise the
// highest qualifying version under nvmDir is used.
func resolveRuntime(ctx context.Context, searchPath, nvmDir string, minMajor int) (string, error) {
	if path, ok := lookPath("node", searchPath); ok {
		if found, err := runtimeVersion(ctx, path); err == nil && found.major() >= minMajor {
			return path, nil
		}
	}

	if path, ok := newestInstalled(nvmDir, minMajor); ok {
		return path, nil
	}
	return "", fmt.Errorf("%w: node %d+ not found (checked PATH and %s)", ErrRuntimeNotFound, minMajor, nvmDir)
}

func runtimeVersion(ctx context.Context, path string) (version, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	output, err := exec.CommandContext(ctx, path, "-v").Output()
	if err != nil {
		return version{}, fmt.Errorf("running %s -v: %w", path, err)
	}
	parsed, ok := parseVersion(string(output))
	if !ok {
		return version{}, fmt.Errorf("%s -v printed %q", path, strings.TrimSpace(string(output)))
	}
	return parsed, nil
}

// newestInstalled scans an nvm versions directory (entries named like
// "v22.4.0", each with bin/node) and returns the node binary of the
// highest version whose major is at least minMajor.
func newestInstalled(nvmDir string, minMajor int) (string, bool) {
	entries, err := os.ReadDir(nvmDir)
	if err != nil {
		return "", false
	}
	type candidate struct {
		version version
		path    string
	}
	var candidates []candidate
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "v") {
			continue
		}
		parsed, ok := parseVersion(entry.Name())
		if !ok || parsed.major() < minMajor {
			continue
		}
		candidates = append(candidates, candidate{parsed, filepath.Join(nvmDir, entry.Name(), "bin", "node")})
	}
	slices.SortFunc(candidates, func(a, b candidate) int {
		return slices.Compare(b.version[:], a.version[:])
	})
	for _, c := range candidates {
		if isExecutable(c.path) {
			return c.path, true
		}
	}
	return "", false
}

// lookPath is exec.LookPath against an explicit PATH list.
func lookPath(name, searchPath string) (string, bool) {
	for _, dir := range filepath.SplitList(searchPath) {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if isExecutable(path) {
			return path, true
		}
	}
	return "", false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}
