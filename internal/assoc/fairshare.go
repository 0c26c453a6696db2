// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package assoc

import "github.com/slurmctld/core/internal/types"

// RecomputeFairShare recomputes SharesNorm, UsageNorm, and UsageEfctv for
// every association in the tree, in a single top-down pass. Each level's
// shares and usage are normalized against siblings, and UsageEfctv blends
// a child's own normalized usage toward its parent's already-computed
// effective usage: usage_efctv = usage_norm + (parent_efctv - usage_norm)
// * damping, so at damping 0 an association is judged purely on its own
// consumption and at damping 1 it inherits its parent's entirely. The
// coefficient is a parameter; cmd/slurmctld passes internal/config.Config's
// FairShareDamping, which config.NewDefault sets to 0.5 unless the config
// file overrides it.
func (t *Tree) RecomputeFairShare(damping float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var walk func(id int32, parentEfctv float64)
	walk = func(id int32, parentEfctv float64) {
		kids := t.children[id]
		if len(kids) == 0 {
			return
		}

		var totalShares int32
		var totalUsage float64
		for _, kid := range kids {
			a := t.byID[kid]
			totalShares += a.SharesRaw
			totalUsage += a.UsageRaw
		}

		for _, kid := range kids {
			a := t.byID[kid]

			if totalShares > 0 {
				a.SharesNorm = float64(a.SharesRaw) / float64(totalShares)
			} else {
				a.SharesNorm = 0
			}

			if totalUsage > 0 {
				a.UsageNorm = a.UsageRaw / totalUsage
			} else {
				a.UsageNorm = 0
			}

			if id == 0 {
				a.UsageEfctv = a.UsageNorm
			} else {
				a.UsageEfctv = a.UsageNorm + (parentEfctv-a.UsageNorm)*damping
			}

			walk(kid, a.UsageEfctv)
		}
	}

	walk(0, 0)
}

// FairSharePriority returns the fair-share factor in [0, 2]:
// shares_norm / usage_efctv when usage is nonzero, capped at 2.0, which
// is also where an association that has never used any resources
// saturates. Monotonically decreasing in usage_efctv/shares_norm, so
// lower relative usage always means a higher factor.
func FairSharePriority(a *types.Association) float64 {
	if a.UsageEfctv <= 0 {
		return 2.0
	}
	if a.SharesNorm <= 0 {
		return 0.0
	}
	f := a.SharesNorm / a.UsageEfctv
	if f > 2.0 {
		return 2.0
	}
	return f
}
