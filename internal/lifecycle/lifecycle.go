// Package lifecycle declares the status graphs of every tracked entity and
// decides whether a requested status change is legal. It has no storage or
// HTTP dependencies; callers load the facts it needs into a Context.
package lifecycle

import (
	"fmt"
	"sort"

	"experimentservice/internal/apperr"
)

type Kind string

const (
	KindExperiment        Kind = "experiment"
	KindRun               Kind = "run"
	KindCaptureSession    Kind = "capture_session"
	KindSensor            Kind = "sensor"
	KindConversionProfile Kind = "conversion_profile"
)

type Status string

const (
	StatusDraft          Status = "draft"
	StatusRunning        Status = "running"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusArchived       Status = "archived"
	StatusBackfilling    Status = "backfilling"
	StatusRegistering    Status = "registering"
	StatusActive         Status = "active"
	StatusInactive       Status = "inactive"
	StatusDecommissioned Status = "decommissioned"
	StatusScheduled      Status = "scheduled"
	StatusDeprecated     Status = "deprecated"
)

// Deny reasons.
const (
	ReasonUnknownStatus       = "unknown_status"
	ReasonInvalidTransition   = "invalid_transition"
	ReasonOpenCaptureSessions = "open_capture_sessions"
	ReasonNotRecording        = "capture_session_not_recording"
	ReasonCaptureActive       = "capture_session_active"
	ReasonSensorInUse         = "sensor_in_use"
	ReasonNotRemovable        = "not_removable"
)

type graph map[Status][]Status

var transitions = map[Kind]graph{
	KindExperiment: {
		StatusDraft:     {StatusRunning, StatusArchived},
		StatusRunning:   {StatusSucceeded, StatusFailed, StatusArchived},
		StatusSucceeded: {StatusArchived},
		StatusFailed:    {StatusArchived},
		StatusArchived:  {},
	},
	KindRun: {
		StatusDraft:     {StatusRunning, StatusArchived},
		StatusRunning:   {StatusSucceeded, StatusFailed, StatusArchived},
		StatusSucceeded: {StatusArchived},
		StatusFailed:    {StatusArchived},
		StatusArchived:  {},
	},
	KindCaptureSession: {
		StatusDraft:       {StatusRunning, StatusArchived},
		StatusRunning:     {StatusSucceeded, StatusFailed, StatusArchived},
		StatusSucceeded:   {StatusBackfilling, StatusArchived},
		StatusBackfilling: {StatusSucceeded, StatusFailed, StatusArchived},
		StatusFailed:      {StatusArchived},
		StatusArchived:    {},
	},
	KindSensor: {
		StatusRegistering:    {StatusActive, StatusInactive, StatusDecommissioned},
		StatusActive:         {StatusInactive, StatusDecommissioned},
		StatusInactive:       {StatusActive, StatusDecommissioned},
		StatusDecommissioned: {},
	},
	KindConversionProfile: {
		StatusDraft:      {StatusScheduled, StatusActive, StatusDeprecated},
		StatusScheduled:  {StatusActive, StatusDeprecated},
		StatusActive:     {StatusDeprecated},
		StatusDeprecated: {},
	},
}

// Context carries the cross-entity facts a decision may need.
type Context struct {
	// OpenCaptureSessions counts the run's capture sessions in draft, running or backfilling.
	OpenCaptureSessions int
	// ActiveReferences counts active capture sessions that reference the entity being removed.
	ActiveReferences int
}

type Decision struct {
	Allowed bool
	// Noop is set when current == requested; such requests are allowed and change nothing.
	Noop   bool
	Reason string
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Reason: reason} }
func noop() Decision              { return Decision{Allowed: true, Noop: true} }

// Valid reports whether s belongs to kind's status set.
func Valid(kind Kind, s Status) bool {
	g, ok := transitions[kind]
	if !ok {
		return false
	}
	_, ok = g[s]
	return ok
}

// Statuses lists kind's status set in a stable order.
func Statuses(kind Kind) []Status {
	g := transitions[kind]
	out := make([]Status, 0, len(g))
	for s := range g {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func IsTerminal(kind Kind, s Status) bool {
	switch kind {
	case KindExperiment, KindRun, KindCaptureSession:
		return s == StatusSucceeded || s == StatusFailed || s == StatusArchived
	case KindSensor:
		return s == StatusDecommissioned
	case KindConversionProfile:
		return s == StatusDeprecated
	}
	return false
}

// IsOpenCapture reports whether a capture session in status s still blocks
// its run from becoming terminal.
func IsOpenCapture(s Status) bool {
	return s == StatusDraft || s == StatusRunning || s == StatusBackfilling
}

// IsRecording reports whether a capture session in status s accepts live telemetry.
func IsRecording(s Status) bool {
	return s == StatusRunning || s == StatusBackfilling
}

// IsStopped reports whether s is one of the states a capture session stops into.
func IsStopped(s Status) bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition decides whether an entity of kind may move from current to requested.
func CanTransition(kind Kind, current, requested Status, ctx Context) Decision {
	if !Valid(kind, current) || !Valid(kind, requested) {
		return deny(ReasonUnknownStatus)
	}
	if current == requested {
		return noop()
	}
	if kind == KindCaptureSession && IsStopped(requested) && !IsRecording(current) {
		return deny(ReasonNotRecording)
	}
	if !edge(kind, current, requested) {
		return deny(ReasonInvalidTransition)
	}
	if kind == KindRun && IsTerminal(KindRun, requested) && ctx.OpenCaptureSessions > 0 {
		return deny(ReasonOpenCaptureSessions)
	}
	return allow()
}

// CanRemove decides whether an entity may be deleted. Removal is only defined
// for sensors (decommission) and capture sessions.
func CanRemove(kind Kind, current Status, ctx Context) Decision {
	switch kind {
	case KindSensor:
		if !Valid(kind, current) {
			return deny(ReasonUnknownStatus)
		}
		if ctx.ActiveReferences > 0 {
			return deny(ReasonSensorInUse)
		}
		if current == StatusDecommissioned {
			return noop()
		}
		return allow()
	case KindCaptureSession:
		if !Valid(kind, current) {
			return deny(ReasonUnknownStatus)
		}
		if IsRecording(current) {
			return deny(ReasonCaptureActive)
		}
		return allow()
	}
	return deny(ReasonNotRemovable)
}

func edge(kind Kind, from, to Status) bool {
	for _, next := range transitions[kind][from] {
		if next == to {
			return true
		}
	}
	return false
}

// Err converts a denied decision into the error returned to callers.
// Unknown statuses are input errors; everything else is a state conflict.
func (d Decision) Err(kind Kind, current, requested Status) error {
	if d.Allowed {
		return nil
	}
	if d.Reason == ReasonUnknownStatus {
		return apperr.Validation(d.Reason, "unknown %s status %q", kind, requested)
	}
	return apperr.Conflict(d.Reason, "%s cannot move from %s to %s (%s)", kind, current, requested, d.Reason)
}

type Candidate struct {
	ID      string
	Current Status
	Context Context
}

type Violation struct {
	ID     string
	Reason string
}

// CheckBatch applies CanTransition to every candidate and returns all
// violations; an empty result means the whole batch may be applied.
func CheckBatch(kind Kind, items []Candidate, requested Status) []Violation {
	var out []Violation
	for _, item := range items {
		d := CanTransition(kind, item.Current, requested, item.Context)
		if !d.Allowed {
			out = append(out, Violation{ID: item.ID, Reason: d.Reason})
		}
	}
	return out
}

// BatchErr builds the conflict error for a non-empty violation list.
func BatchErr(kind Kind, requested Status, violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	ids := make([]string, 0, len(violations))
	for _, v := range violations {
		ids = append(ids, v.ID)
	}
	if violations[0].Reason == ReasonUnknownStatus {
		return apperr.Validation(ReasonUnknownStatus, "unknown %s status %q", kind, requested).WithIDs(ids)
	}
	msg := fmt.Sprintf("%d %s(s) cannot move to %s", len(ids), kind, requested)
	return apperr.Conflict("batch_transition_denied", "%s", msg).WithIDs(ids)
}
