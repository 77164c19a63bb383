package lifecycle

import "experimentservice/internal/apperr"

type IngestMode string

const (
	IngestLive IngestMode = "live"
	IngestLate IngestMode = "late"
)

const ReasonArchivedScope = "archived_scope"

// Scope is the run and optional capture session a telemetry batch targets.
// A nil status means the batch does not target that entity.
type Scope struct {
	RunStatus       *Status
	CaptureStatus   *Status
	CaptureArchived bool
}

// ClassifyIngest applies the late-data policy: archived scopes reject the
// whole batch, succeeded/failed scopes accept it as late data, anything else
// is live. The capture session, when present, decides over the run.
func ClassifyIngest(scope Scope) (IngestMode, error) {
	if scope.CaptureArchived {
		return "", apperr.Conflict(ReasonArchivedScope, "capture session is archived")
	}
	if scope.RunStatus != nil && *scope.RunStatus == StatusArchived {
		return "", apperr.Conflict(ReasonArchivedScope, "run is archived")
	}
	if scope.CaptureStatus != nil && *scope.CaptureStatus == StatusArchived {
		return "", apperr.Conflict(ReasonArchivedScope, "capture session is archived")
	}
	if scope.CaptureStatus != nil {
		if IsStopped(*scope.CaptureStatus) {
			return IngestLate, nil
		}
		return IngestLive, nil
	}
	if scope.RunStatus != nil && IsStopped(*scope.RunStatus) {
		return IngestLate, nil
	}
	return IngestLive, nil
}
