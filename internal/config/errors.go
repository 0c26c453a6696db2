// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import "errors"

var (
	ErrMissingControllerHost = errors.New("config: controller host is required")
	ErrInvalidPort           = errors.New("config: port must be in 1..65535")
	ErrInvalidTick           = errors.New("config: scheduler and backfill intervals must be > 0")
	ErrMissingStateDir       = errors.New("config: state save directory is required")
	ErrInvalidDamping        = errors.New("config: fair-share damping must be in [0,1]")
	ErrPartitionDefault      = errors.New("config: exactly one partition must be marked default")
)
