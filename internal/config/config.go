// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config holds the controller daemon's configuration surface:
// env-var overridable, file-loadable, validated before the daemon
// starts accepting RPCs, and reloadable on signal.
package config

import (
	"os"
	"strconv"
	"time"
)

// NodeDef is one node definition line from the config surface.
type NodeDef struct {
	NamePattern string // e.g. "lx[0-15]", expanded by noderegistry.ExpandHostlist
	CPUs        int32
	CPUSpeed    float64
	RealMemory  int64
	VirtMemory  int64
	TmpDisk     int64
	OSVersion   string
	Features    []string
}

// PartitionDef is one partition definition line from the config surface.
type PartitionDef struct {
	Name        string
	Nodes       string // hostlist expression of member nodes
	MaxTime     int32
	MaxNodes    int32
	MinNodes    int32
	AllowGroups []string
	RequireKey  bool
	Default     bool
	Sharing     string
}

// Config is the controller daemon's full reloadable configuration.
type Config struct {
	// ControllerHost and BackupHost are the primary/backup control-daemon
	// addresses.
	ControllerHost string
	BackupHost     string
	Port           int

	Nodes      []NodeDef
	Partitions []PartitionDef

	// SchedulerTick is the interval between scheduler worker passes.
	SchedulerTick time.Duration
	// BackfillInterval is the interval between backfill passes.
	BackfillInterval time.Duration

	// StateSaveDir holds the persisted state files.
	StateSaveDir string

	// MinJobAge is the minimum retention before a terminal job is reaped
	// from the Job Store.
	MinJobAge time.Duration
	// MessageTimeout bounds a single agent RPC.
	MessageTimeout time.Duration
	// SlurmdTimeout is the unresponsiveness threshold before a node is
	// marked down.
	SlurmdTimeout time.Duration

	// DefaultQoS is applied to new clusters when none is specified.
	DefaultQoS string

	// AuthKey is the shared secret the controller signs and verifies
	// partition keys with. Empty means no
	// RequireKey partition can be submitted to.
	AuthKey string

	// FairShareDamping is the damping constant in [0,1] used by
	// usage_efctv propagation.
	FairShareDamping float64
}

// NewDefault returns a Config with the daemon's out-of-the-box defaults.
func NewDefault() *Config {
	return &Config{
		ControllerHost:    getEnvOrDefault("SLURMCTLD_HOST", "localhost"),
		Port:              getEnvIntOrDefault("SLURMCTLD_PORT", 6817),
		SchedulerTick:     getEnvDurationOrDefault("SLURMCTLD_SCHED_TICK", 10*time.Second),
		BackfillInterval:  getEnvDurationOrDefault("SLURMCTLD_BACKFILL_INTERVAL", 30*time.Second),
		StateSaveDir:      getEnvOrDefault("SLURMCTLD_STATE_DIR", "/var/spool/slurmctld"),
		MinJobAge:         getEnvDurationOrDefault("SLURMCTLD_MIN_JOB_AGE", 5*time.Minute),
		MessageTimeout:    getEnvDurationOrDefault("SLURMCTLD_MSG_TIMEOUT", 10*time.Second),
		SlurmdTimeout:     getEnvDurationOrDefault("SLURMCTLD_SLURMD_TIMEOUT", 5*time.Minute),
		FairShareDamping:  0.5,
		AuthKey:           os.Getenv("SLURMCTLD_AUTH_KEY"),
	}
}

// Load overlays environment variables onto c; only set values
// override, blanks are left alone.
// It is safe to call again after a SIGHUP to pick up environment changes;
// Nodes/Partitions are reloaded from the config file path, not env, by
// the caller (cmd/slurmctld) which re-parses the file and replaces those
// slices wholesale.
func (c *Config) Load() {
	if host := os.Getenv("SLURMCTLD_HOST"); host != "" {
		c.ControllerHost = host
	}
	if backup := os.Getenv("SLURMCTLD_BACKUP_HOST"); backup != "" {
		c.BackupHost = backup
	}
	if port := os.Getenv("SLURMCTLD_PORT"); port != "" {
		if i, err := strconv.Atoi(port); err == nil {
			c.Port = i
		}
	}
	if dir := os.Getenv("SLURMCTLD_STATE_DIR"); dir != "" {
		c.StateSaveDir = dir
	}
	if qos := os.Getenv("SLURMCTLD_DEFAULT_QOS"); qos != "" {
		c.DefaultQoS = qos
	}
	if key := os.Getenv("SLURMCTLD_AUTH_KEY"); key != "" {
		c.AuthKey = key
	}
	if tick := os.Getenv("SLURMCTLD_SCHED_TICK"); tick != "" {
		if d, err := time.ParseDuration(tick); err == nil {
			c.SchedulerTick = d
		}
	}
	if bf := os.Getenv("SLURMCTLD_BACKFILL_INTERVAL"); bf != "" {
		if d, err := time.ParseDuration(bf); err == nil {
			c.BackfillInterval = d
		}
	}
}

// Validate checks the daemon configuration is self-consistent before the
// controller starts accepting RPCs.
func (c *Config) Validate() error {
	if c.ControllerHost == "" {
		return ErrMissingControllerHost
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.SchedulerTick <= 0 {
		return ErrInvalidTick
	}
	if c.BackfillInterval <= 0 {
		return ErrInvalidTick
	}
	if c.StateSaveDir == "" {
		return ErrMissingStateDir
	}
	if c.FairShareDamping < 0 || c.FairShareDamping > 1 {
		return ErrInvalidDamping
	}
	defaults := 0
	for _, p := range c.Partitions {
		if p.Default {
			defaults++
		}
	}
	if len(c.Partitions) > 0 && defaults != 1 {
		return ErrPartitionDefault
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
