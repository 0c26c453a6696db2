// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package state implements the controller's save-directory layout.
// Each of node_state,
// part_state, job_state, trigger_state, assoc_usage, and qos_usage is an
// independently versioned file, written atomically and reloaded at
// startup by LoadAll. The
// encoding throughout is internal/wire's Writer/Reader, the same framing
// the RPC layer uses, so a file is just a Marshal'd record preceded by a
// struct-version tag.
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slurmctld/core/pkg/retry"
)

// fsyncRetry governs writeAtomic's fsync-and-rename step, one of the
// controller's few blocking suspension points. A save-directory
// fsync failure is almost always transient disk pressure rather than a
// structural problem, so a short constant backoff is enough to ride it
// out without holding the controller's state-save lock for long.
var fsyncRetry = retry.NewStateSyncBackoff()

const (
	nodeStateFile    = "node_state"
	partStateFile    = "part_state"
	jobStateFile     = "job_state"
	triggerStateFile = "trigger_state"
	assocUsageFile   = "assoc_usage"
	qosUsageFile     = "qos_usage"
)

// writeAtomic writes data to name under dir by first writing to a temp
// file in the same directory, fsyncing it, then renaming over the
// target. Using a
// sibling temp file keeps the rename on the same filesystem, so it is
// atomic on every POSIX target the controller runs on.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: creating save directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("state: creating temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("state: writing %s: %w", name, err)
	}
	syncErr := retry.Retry(context.Background(), fsyncRetry, tmp.Sync)
	if syncErr != nil {
		tmp.Close()
		return fmt.Errorf("state: fsyncing %s: %w", name, syncErr)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: closing %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("state: renaming %s into place: %w", name, err)
	}
	return nil
}

// readFile loads name from dir, returning os.ErrNotExist unchanged so
// callers can treat a missing file as "nothing saved yet" (a brand new
// save directory, or one of the optional files this controller version
// never wrote).
func readFile(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	return data, nil
}
