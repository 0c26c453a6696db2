// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/slurmctld/core/internal/assoc"
	"github.com/slurmctld/core/internal/ctlerr"
)

// errorBody is the JSON shape every failed RPC call returns.
type errorBody struct {
	Kind      ctlerr.Kind     `json:"kind"`
	Subclass  ctlerr.Subclass `json:"subclass,omitempty"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	RequestID string          `json:"request_id,omitempty"`
}

// classify turns a plain error bubbling up from internal/engine,
// internal/jobstore, internal/assoc, or internal/scheduler into a
// ctlerr.Error. This is the one place in the core that does that
// mapping; every internal package keeps returning plain errors or
// typed reasons.
func classify(err error) *ctlerr.Error {
	if err == nil {
		return nil
	}
	if e, ok := ctlerr.As(err); ok {
		return e
	}

	if violation, ok := err.(*assoc.LimitViolation); ok {
		e := ctlerr.WithCause(ctlerr.ResourceExhausted, violation.Error(), err).WithAt(violation.At)
		switch violation.Field {
		case "max_submit_jobs", "group_submit_jobs":
			return e.WithSubclass(ctlerr.SubclassSubmitCap)
		case "max_wall_per_job", "group_wall":
			return e.WithSubclass(ctlerr.SubclassWall)
		}
		if violation.Stage == "group" {
			return e.WithSubclass(ctlerr.SubclassGroup)
		}
		return e.WithSubclass(ctlerr.SubclassPerJob)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return ctlerr.WithCause(ctlerr.NotFound, msg, err)
	case strings.Contains(msg, "already registered"), strings.Contains(msg, "already terminal"),
		strings.Contains(msg, "already exists"), strings.Contains(msg, "duplicate"):
		return ctlerr.WithCause(ctlerr.Conflict, msg, err)
	case strings.Contains(msg, "not running"), strings.Contains(msg, "not suspended"),
		strings.Contains(msg, "not in a startable state"):
		return ctlerr.WithCause(ctlerr.Conflict, msg, err)
	default:
		return ctlerr.WithCause(ctlerr.InvalidInput, msg, err)
	}
}

// httpStatus maps a Kind to the status code the exit-code convention
// mirrors on the CLI side: 1 invalid arguments, 2
// permission denied, 3 not found, 4 transient/retryable, 5 permanent.
func httpStatus(k ctlerr.Kind) int {
	switch k {
	case ctlerr.InvalidInput:
		return http.StatusBadRequest
	case ctlerr.PermissionDenied:
		return http.StatusForbidden
	case ctlerr.NotFound:
		return http.StatusNotFound
	case ctlerr.Conflict:
		return http.StatusConflict
	case ctlerr.ResourceExhausted:
		return http.StatusUnprocessableEntity
	case ctlerr.NodesBusy, ctlerr.TransientIO:
		return http.StatusServiceUnavailable
	case ctlerr.NodesNever:
		return http.StatusUnprocessableEntity
	case ctlerr.ProtocolVersion:
		return http.StatusUpgradeRequired
	case ctlerr.FatalInvariant:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(e.Kind))
	_ = json.NewEncoder(w).Encode(errorBody{
		Kind:      e.Kind,
		Subclass:  e.Subclass,
		Message:   e.Message,
		Retryable: e.Retryable,
		RequestID: requestID(r.Context()),
	})
}

func errInvalidTerminalState(state string) error {
	return ctlerr.InvalidInputf("%q is not a terminal job state", state)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}
