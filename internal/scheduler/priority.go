// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"time"

	"github.com/slurmctld/core/internal/assoc"
	"github.com/slurmctld/core/internal/qos"
	"github.com/slurmctld/core/internal/types"
)

// agePriorityPerMinute converts job age into priority points: one point per
// minute waited, capped at ageCap so a sufficiently old job's age factor
// stops growing rather than eventually dominating every other term.
const (
	agePriorityPerMinute int64 = 1
	ageCap               int64 = 10000
)

func ageFactor(age time.Duration) int64 {
	pts := int64(age/time.Minute) * agePriorityPerMinute
	if pts > ageCap {
		return ageCap
	}
	if pts < 0 {
		return 0
	}
	return pts
}

// fairShareFactorScale converts the [0, 2] fair-share factor into
// priority points comparable in magnitude to base_prio and qos.priority.
const fairShareFactorScale = 1000

// Priority computes prio(J) = base_prio(J) + qos.priority(J) +
// fair_share_factor(assoc(J)) + age_factor(now - submit(J)).
// A held job (base_prio == 0 by jobstore
// convention) returns 0 unconditionally and is skipped by all admission
// paths upstream of this function.
func Priority(j *types.Job, tree *assoc.Tree, qset *qos.Set, now time.Time) int64 {
	if j.Held || j.Priority == 0 {
		return 0
	}

	prio := j.Priority

	if a, ok := tree.Get(j.AssocID); ok {
		prio += int64(assoc.FairSharePriority(a) * fairShareFactorScale)
	}
	if j.QoSID != 0 {
		if q, ok := qset.ByID(j.QoSID); ok {
			prio += int64(q.Priority)
		}
	}
	prio += ageFactor(now.Sub(j.SubmitTime))
	return prio
}

// CanPreempt reports whether candidate (holding QoS holderQoS, computed
// priority candidatePriority) may preempt victim (holding QoS
// victimQoS, currently at priority victimPriority): the preemption
// bitstring must permit it AND the candidate's priority must exceed the
// victim's.
func CanPreempt(qset *qos.Set, holderQoS, victimQoS int32, candidatePriority, victimPriority int64) bool {
	if !qset.CanPreempt(holderQoS, victimQoS) {
		return false
	}
	return candidatePriority > victimPriority
}
