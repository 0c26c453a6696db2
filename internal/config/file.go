// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config's file-sourced fields. Durations are plain
// strings in the file (e.g. "10s") and parsed with time.ParseDuration,
// matching how SLURMCTLD_SCHED_TICK and friends are read from the
// environment in Load.
type fileConfig struct {
	ControllerHost   string         `yaml:"controller_host"`
	BackupHost       string         `yaml:"backup_host"`
	Port             int            `yaml:"port"`
	SchedulerTick    string         `yaml:"scheduler_tick"`
	BackfillInterval string         `yaml:"backfill_interval"`
	StateSaveDir     string         `yaml:"state_save_dir"`
	MinJobAge        string         `yaml:"min_job_age"`
	MessageTimeout   string         `yaml:"message_timeout"`
	SlurmdTimeout    string         `yaml:"slurmd_timeout"`
	DefaultQoS       string         `yaml:"default_qos"`
	FairShareDamping *float64       `yaml:"fair_share_damping"`
	Nodes            []fileNodeDef  `yaml:"nodes"`
	Partitions       []filePartDef  `yaml:"partitions"`
}

type fileNodeDef struct {
	NamePattern string   `yaml:"name_pattern"`
	CPUs        int32    `yaml:"cpus"`
	CPUSpeed    float64  `yaml:"cpu_speed"`
	RealMemory  int64    `yaml:"real_memory"`
	VirtMemory  int64    `yaml:"virt_memory"`
	TmpDisk     int64    `yaml:"tmp_disk"`
	OSVersion   string   `yaml:"os_version"`
	Features    []string `yaml:"features"`
}

type filePartDef struct {
	Name        string   `yaml:"name"`
	Nodes       string   `yaml:"nodes"`
	MaxTime     int32    `yaml:"max_time"`
	MaxNodes    int32    `yaml:"max_nodes"`
	MinNodes    int32    `yaml:"min_nodes"`
	AllowGroups []string `yaml:"allow_groups"`
	RequireKey  bool     `yaml:"require_key"`
	Default     bool     `yaml:"default"`
	Sharing     string   `yaml:"sharing"`
}

// LoadFile reads the controller's YAML config surface at path and
// overlays it onto c, replacing Nodes and Partitions wholesale the way
// the package doc for Load describes. A missing path is not an error on
// the initial load path (NewDefault already supplies usable scheduling
// defaults); it is cmd/slurmctld's job to decide whether an unconfigured
// node/partition topology is acceptable.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if fc.ControllerHost != "" {
		c.ControllerHost = fc.ControllerHost
	}
	if fc.BackupHost != "" {
		c.BackupHost = fc.BackupHost
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.StateSaveDir != "" {
		c.StateSaveDir = fc.StateSaveDir
	}
	if fc.DefaultQoS != "" {
		c.DefaultQoS = fc.DefaultQoS
	}
	if fc.FairShareDamping != nil {
		c.FairShareDamping = *fc.FairShareDamping
	}
	if d, err := parseDurationField("scheduler_tick", fc.SchedulerTick); err != nil {
		return err
	} else if d > 0 {
		c.SchedulerTick = d
	}
	if d, err := parseDurationField("backfill_interval", fc.BackfillInterval); err != nil {
		return err
	} else if d > 0 {
		c.BackfillInterval = d
	}
	if d, err := parseDurationField("min_job_age", fc.MinJobAge); err != nil {
		return err
	} else if d > 0 {
		c.MinJobAge = d
	}
	if d, err := parseDurationField("message_timeout", fc.MessageTimeout); err != nil {
		return err
	} else if d > 0 {
		c.MessageTimeout = d
	}
	if d, err := parseDurationField("slurmd_timeout", fc.SlurmdTimeout); err != nil {
		return err
	} else if d > 0 {
		c.SlurmdTimeout = d
	}

	if len(fc.Nodes) > 0 {
		c.Nodes = make([]NodeDef, 0, len(fc.Nodes))
		for _, n := range fc.Nodes {
			c.Nodes = append(c.Nodes, NodeDef{
				NamePattern: n.NamePattern,
				CPUs:        n.CPUs,
				CPUSpeed:    n.CPUSpeed,
				RealMemory:  n.RealMemory,
				VirtMemory:  n.VirtMemory,
				TmpDisk:     n.TmpDisk,
				OSVersion:   n.OSVersion,
				Features:    n.Features,
			})
		}
	}
	if len(fc.Partitions) > 0 {
		c.Partitions = make([]PartitionDef, 0, len(fc.Partitions))
		for _, p := range fc.Partitions {
			c.Partitions = append(c.Partitions, PartitionDef{
				Name:        p.Name,
				Nodes:       p.Nodes,
				MaxTime:     p.MaxTime,
				MaxNodes:    p.MaxNodes,
				MinNodes:    p.MinNodes,
				AllowGroups: p.AllowGroups,
				RequireKey:  p.RequireKey,
				Default:     p.Default,
				Sharing:     p.Sharing,
			})
		}
	}

	return nil
}

func parseDurationField(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	return d, nil
}
