// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"strconv"
	"strings"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/noderegistry"
	"github.com/slurmctld/core/internal/types"
)

// StaticCandidates returns the bitmap of nodes satisfying req's static
// constraints (minimum CPUs/memory/tmp disk, OS version, feature
// expression) and partition membership, independent of current node
// state.
func StaticCandidates(reg *noderegistry.Registry, req *types.Request, partMembers *bitmap.Set) *bitmap.Set {
	cand := reg.Bitmap(func(n *types.Node) bool {
		if req.MinProcs > 0 && n.CPUs < req.MinProcs {
			return false
		}
		if req.MinMemory > 0 && n.RealMemory < req.MinMemory {
			return false
		}
		if req.MinTmpDisk > 0 && n.TmpDisk < req.MinTmpDisk {
			return false
		}
		if req.MinOSVersion != "" && compareVersions(n.OSVersion, req.MinOSVersion) < 0 {
			return false
		}
		if req.Features != "" && !featuresSatisfied(n, req.Features) {
			return false
		}
		return true
	})
	cand.And(partMembers)
	return cand
}

// compareVersions compares two dotted-decimal version strings component
// by component, returning <0, 0, or >0. A missing component compares as
// zero ("4.18" == "4.18.0"); a non-numeric component compares as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av - bv
		}
	}
	return 0
}

// featuresSatisfied evaluates a feature expression as a conjunction of
// required feature tags (e.g. "gpu&fast" requires both). This is the
// common case in practice; disjunction and parenthesized sub-expressions
// are not part of this controller's feature grammar.
func featuresSatisfied(n *types.Node, expr string) bool {
	for _, f := range strings.Split(expr, "&") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !n.HasFeature(f) {
			return false
		}
	}
	return true
}

// AvailableNow returns the bitmap of nodes currently usable for an
// immediate placement: idle nodes, plus mixed nodes when the job's
// resolved sharing preference allows packing onto a partially allocated
// node.
func AvailableNow(reg *noderegistry.Registry, allowMixed bool) *bitmap.Set {
	return reg.Bitmap(func(n *types.Node) bool {
		if n.State == types.NodeStateIdle {
			return true
		}
		return allowMixed && n.State == types.NodeStateMixed
	})
}

// LiveCapacity returns a Capacity callback that reports a node's live
// free CPU count, for run_now selection where a mixed node's existing
// allocations must be respected.
func LiveCapacity(reg *noderegistry.Registry) Capacity {
	return func(ordinal int) int32 {
		n, ok := reg.LookupOrdinal(ordinal)
		if !ok {
			return 0
		}
		return n.FreeCPUs()
	}
}

// FullCapacity returns a Capacity callback that reports a node's total
// CPU count, for test_only and will_run selection where the mode
// reasons about capacity independent of current live allocation.
func FullCapacity(reg *noderegistry.Registry) Capacity {
	return func(ordinal int) int32 {
		n, ok := reg.LookupOrdinal(ordinal)
		if !ok {
			return 0
		}
		return n.CPUs
	}
}

// AllowsMixed reports whether a job's resolved sharing preference
// permits placement on a partition-shared, already-occupied node.
func AllowsMixed(shared types.Shared, partition types.SharingPolicy) bool {
	if shared == types.SharedNo {
		return false
	}
	return shared == types.SharedYes || shared == types.SharedForce || partition == types.SharingYes || partition == types.SharingForce
}
