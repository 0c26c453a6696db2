// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package assoc

import (
	"fmt"

	"github.com/slurmctld/core/internal/types"
)

// LimitViolation names which stage of the three-stage admission check
// failed, which limit field tripped, and at which association or QoS the
// failure occurred, so the scheduler can record a precise "why pending"
// reason rather than a boolean.
type LimitViolation struct {
	Stage  string // "per_job", "group", "qos"
	Field  string // e.g. "group_cpus", "max_wall_per_job"
	At     string // account (or QoS name) the limit lives on
	Detail string
}

func (v *LimitViolation) Error() string {
	if v.At != "" {
		return fmt.Sprintf("assoc: %s limit %s exceeded at %s: %s", v.Stage, v.Field, v.At, v.Detail)
	}
	return fmt.Sprintf("assoc: %s limit %s exceeded: %s", v.Stage, v.Field, v.Detail)
}

// CheckAdmission runs the three-stage limit check a job must pass before
// it may be queued: (1) for each ancestor from the
// submitting association to the cluster root, the ancestor's group
// limits aggregated with its current usage; (2) the submitting
// association's own per-job limits against the request; (3) the job's
// QoS per-job and group limits, if any.
func CheckAdmission(t *Tree, a *types.Association, qos *types.QoS, req *types.Request) error {
	cur := a
	for cur != nil {
		if v := checkGroup(cur.Group, cur.Usage, req); v != nil {
			v.Stage = "group"
			v.At = cur.Account
			return v
		}
		if cur.ParentID == 0 {
			break
		}
		parent, ok := t.Get(cur.ParentID)
		if !ok {
			break
		}
		cur = parent
	}

	if v := checkPerJob(a.PerJob, req); v != nil {
		v.Stage = "per_job"
		v.At = a.Account
		return v
	}
	if v := checkJobCounts(a.PerJob, a.UsedJobs, a.UsedSubmitJobs); v != nil {
		v.Stage = "per_job"
		v.At = a.Account
		return v
	}

	if qos != nil {
		if v := checkPerJob(qos.PerJob, req); v != nil {
			v.Stage = "qos"
			v.At = qos.Name
			return v
		}
		if v := checkGroup(qos.Group, qos.GrpUsed, req); v != nil {
			v.Stage = "qos"
			v.At = qos.Name
			return v
		}
	}

	return nil
}

func checkPerJob(lim types.PerJobLimits, req *types.Request) *LimitViolation {
	if lim.MaxCPUsPJ > 0 && req.NumProcs > lim.MaxCPUsPJ {
		return &LimitViolation{Field: "max_cpus_per_job",
			Detail: fmt.Sprintf("requested cpus %d exceeds %d", req.NumProcs, lim.MaxCPUsPJ)}
	}
	if lim.MaxNodesPJ > 0 && req.NumNodes > lim.MaxNodesPJ {
		return &LimitViolation{Field: "max_nodes_per_job",
			Detail: fmt.Sprintf("requested nodes %d exceeds %d", req.NumNodes, lim.MaxNodesPJ)}
	}
	if lim.MaxWallPJ > 0 && req.TimeLimit > lim.MaxWallPJ {
		return &LimitViolation{Field: "max_wall_per_job",
			Detail: fmt.Sprintf("requested time limit %d exceeds %d", req.TimeLimit, lim.MaxWallPJ)}
	}
	if lim.MaxCPUMinsPJ > 0 {
		cpuMins := int64(req.NumProcs) * int64(req.TimeLimit)
		if cpuMins > lim.MaxCPUMinsPJ {
			return &LimitViolation{Field: "max_cpu_mins_per_job",
				Detail: fmt.Sprintf("requested cpu-minutes %d exceeds %d", cpuMins, lim.MaxCPUMinsPJ)}
		}
	}
	return nil
}

// checkJobCounts enforces the per-association running/submitted job
// ceilings, which depend on the association's current counters rather
// than the request's shape.
func checkJobCounts(lim types.PerJobLimits, usedJobs, usedSubmit int32) *LimitViolation {
	if lim.MaxJobs > 0 && usedJobs+1 > lim.MaxJobs {
		return &LimitViolation{Field: "max_jobs",
			Detail: fmt.Sprintf("running job count %d at max_jobs %d", usedJobs, lim.MaxJobs)}
	}
	if lim.MaxSubmitJobs > 0 && usedSubmit+1 > lim.MaxSubmitJobs {
		return &LimitViolation{Field: "max_submit_jobs",
			Detail: fmt.Sprintf("submitted job count %d at max_submit_jobs %d", usedSubmit, lim.MaxSubmitJobs)}
	}
	return nil
}

func checkGroup(lim types.GroupLimits, usage types.GroupUsage, req *types.Request) *LimitViolation {
	if lim.GrpCPUs > 0 && usage.GrpUsedCPUs+req.NumProcs > lim.GrpCPUs {
		return &LimitViolation{Field: "group_cpus",
			Detail: fmt.Sprintf("group cpu usage %d + %d would exceed grp_cpus %d", usage.GrpUsedCPUs, req.NumProcs, lim.GrpCPUs)}
	}
	if lim.GrpNodes > 0 && usage.GrpUsedNodes+req.NumNodes > lim.GrpNodes {
		return &LimitViolation{Field: "group_nodes",
			Detail: fmt.Sprintf("group node usage %d + %d would exceed grp_nodes %d", usage.GrpUsedNodes, req.NumNodes, lim.GrpNodes)}
	}
	if lim.GrpJobs > 0 && usage.GrpUsedJobs+1 > lim.GrpJobs {
		return &LimitViolation{Field: "group_jobs",
			Detail: fmt.Sprintf("group job count %d at grp_jobs %d", usage.GrpUsedJobs, lim.GrpJobs)}
	}
	if lim.GrpSubmitJobs > 0 && usage.GrpUsedSubmitJobs+1 > lim.GrpSubmitJobs {
		return &LimitViolation{Field: "group_submit_jobs",
			Detail: fmt.Sprintf("group submitted job count %d at grp_submit_jobs %d", usage.GrpUsedSubmitJobs, lim.GrpSubmitJobs)}
	}
	if lim.GrpCPUMins > 0 {
		cpuMins := int64(req.NumProcs) * int64(req.TimeLimit)
		if usage.GrpUsedCPUMins+cpuMins > lim.GrpCPUMins {
			return &LimitViolation{Field: "group_cpu_mins",
				Detail: fmt.Sprintf("group cpu-minutes %d + %d would exceed grp_cpu_mins %d", usage.GrpUsedCPUMins, cpuMins, lim.GrpCPUMins)}
		}
	}
	if lim.GrpWall > 0 && usage.GrpUsedWallMins+int64(req.TimeLimit) > int64(lim.GrpWall) {
		return &LimitViolation{Field: "group_wall",
			Detail: fmt.Sprintf("group wall-minutes %d + %d would exceed grp_wall %d", usage.GrpUsedWallMins, req.TimeLimit, lim.GrpWall)}
	}
	return nil
}
