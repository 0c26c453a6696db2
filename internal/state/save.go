// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"

	"github.com/slurmctld/core/internal/assoc"
	"github.com/slurmctld/core/internal/jobstore"
	"github.com/slurmctld/core/internal/noderegistry"
	"github.com/slurmctld/core/internal/partregistry"
	"github.com/slurmctld/core/internal/qos"
)

// Stores bundles the in-memory components a save/load pass reads from or
// writes into, the same set cmd/slurmctld wires together at startup.
type Stores struct {
	Nodes  *noderegistry.Registry
	Parts  *partregistry.Registry
	Assoc  *assoc.Tree
	QoS    *qos.Set
	Jobs   *jobstore.Store
	Trigger []byte // opaque passthrough, carried between a Load and the next Save
}

// SaveAll writes every persisted state file under dir. A failure partway
// through leaves whichever files already succeeded in place; each file's
// own write is atomic, so a concurrent crash never corrupts an
// individual file, only possibly leaves the set out of sync with each
// other until the next successful SaveAll.
func SaveAll(dir string, s Stores) error {
	if err := SaveNodeState(dir, s.Nodes); err != nil {
		return fmt.Errorf("state: saving node_state: %w", err)
	}
	if err := SavePartState(dir, s.Parts); err != nil {
		return fmt.Errorf("state: saving part_state: %w", err)
	}
	if err := SaveJobState(dir, s.Jobs); err != nil {
		return fmt.Errorf("state: saving job_state: %w", err)
	}
	if err := SaveAssocUsage(dir, s.Assoc); err != nil {
		return fmt.Errorf("state: saving assoc_usage: %w", err)
	}
	if err := SaveQoSUsage(dir, s.QoS); err != nil {
		return fmt.Errorf("state: saving qos_usage: %w", err)
	}
	if s.Trigger != nil {
		if err := SaveTriggerState(dir, s.Trigger); err != nil {
			return fmt.Errorf("state: saving trigger_state: %w", err)
		}
	}
	return nil
}

// LoadAll loads every persisted state file under dir and applies it onto
// the already-configured components in s. Nodes and partitions must
// already be created from configuration before LoadAll runs, since
// ApplyNodeState/ApplyPartState only update state on existing records.
func LoadAll(dir string, s *Stores) error {
	nodes, err := LoadNodeState(dir)
	if err != nil {
		return fmt.Errorf("state: loading node_state: %w", err)
	}
	ApplyNodeState(s.Nodes, nodes)

	parts, err := LoadPartState(dir)
	if err != nil {
		return fmt.Errorf("state: loading part_state: %w", err)
	}
	if err := ApplyPartState(s.Parts, parts); err != nil {
		return fmt.Errorf("state: applying part_state: %w", err)
	}

	assocUsage, err := LoadAssocUsage(dir)
	if err != nil {
		return fmt.Errorf("state: loading assoc_usage: %w", err)
	}
	ApplyAssocUsage(s.Assoc, assocUsage)

	qosUsage, err := LoadQoSUsage(dir)
	if err != nil {
		return fmt.Errorf("state: loading qos_usage: %w", err)
	}
	ApplyQoSUsage(s.QoS, qosUsage)

	jobs, err := LoadJobState(dir)
	if err != nil {
		return fmt.Errorf("state: loading job_state: %w", err)
	}
	if err := ApplyJobState(s.Jobs, jobs); err != nil {
		return fmt.Errorf("state: applying job_state: %w", err)
	}

	trigger, err := LoadTriggerState(dir)
	if err != nil {
		return fmt.Errorf("state: loading trigger_state: %w", err)
	}
	s.Trigger = trigger

	return nil
}
