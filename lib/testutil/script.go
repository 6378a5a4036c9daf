// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
)

// FileTB is the subset of testing.TB WriteExecutable needs.
type FileTB interface {
	TB
	TempDir() string
}

// WriteExecutable writes a /bin/sh script named name into dir (a fresh
// temporary directory when dir is empty) and returns its path.
//
//	node := testutil.WriteExecutable(t, binDir, "node", `echo v22.4.0`)
func WriteExecutable(t FileTB, dir, name, body string) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}
