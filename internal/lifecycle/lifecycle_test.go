package lifecycle

import (
	"testing"

	"experimentservice/internal/apperr"
)

func TestCanTransition_RunTerminalBlockedByOpenSessions(t *testing.T) {
	kinds := []Status{StatusDraft, StatusRunning, StatusSucceeded, StatusFailed, StatusArchived}
	for _, current := range kinds {
		for _, requested := range kinds {
			if current == requested {
				continue
			}
			free := CanTransition(KindRun, current, requested, Context{})
			blocked := CanTransition(KindRun, current, requested, Context{OpenCaptureSessions: 1})
			if !free.Allowed {
				if blocked.Allowed {
					t.Fatalf("%s->%s allowed with open sessions but not without", current, requested)
				}
				continue
			}
			wantBlocked := IsTerminal(KindRun, requested)
			if wantBlocked && blocked.Allowed {
				t.Fatalf("%s->%s allowed with open sessions", current, requested)
			}
			if wantBlocked && blocked.Reason != ReasonOpenCaptureSessions {
				t.Fatalf("%s->%s reason=%s want=%s", current, requested, blocked.Reason, ReasonOpenCaptureSessions)
			}
			if !wantBlocked && !blocked.Allowed {
				t.Fatalf("%s->%s denied with open sessions reason=%s", current, requested, blocked.Reason)
			}
		}
	}
}

func TestCanTransition_ForwardOnly(t *testing.T) {
	cases := []struct {
		kind      Kind
		from, to  Status
		wantAllow bool
	}{
		{KindRun, StatusDraft, StatusRunning, true},
		{KindRun, StatusRunning, StatusDraft, false},
		{KindRun, StatusSucceeded, StatusRunning, false},
		{KindRun, StatusArchived, StatusDraft, false},
		{KindRun, StatusDraft, StatusArchived, true},
		{KindRun, StatusRunning, StatusArchived, true},
		{KindExperiment, StatusFailed, StatusArchived, true},
		{KindExperiment, StatusDraft, StatusSucceeded, false},
		{KindCaptureSession, StatusSucceeded, StatusBackfilling, true},
		{KindCaptureSession, StatusBackfilling, StatusSucceeded, true},
		{KindCaptureSession, StatusFailed, StatusBackfilling, false},
		{KindSensor, StatusInactive, StatusActive, true},
		{KindSensor, StatusDecommissioned, StatusActive, false},
		{KindConversionProfile, StatusActive, StatusDraft, false},
		{KindConversionProfile, StatusScheduled, StatusActive, true},
	}
	for _, tc := range cases {
		got := CanTransition(tc.kind, tc.from, tc.to, Context{})
		if got.Allowed != tc.wantAllow {
			t.Fatalf("%s %s->%s allowed=%v want=%v (reason=%s)", tc.kind, tc.from, tc.to, got.Allowed, tc.wantAllow, got.Reason)
		}
	}
}

func TestCanTransition_CaptureStopRequiresRecording(t *testing.T) {
	got := CanTransition(KindCaptureSession, StatusDraft, StatusSucceeded, Context{})
	if got.Allowed || got.Reason != ReasonNotRecording {
		t.Fatalf("draft->succeeded allowed=%v reason=%s want denied %s", got.Allowed, got.Reason, ReasonNotRecording)
	}
	got = CanTransition(KindCaptureSession, StatusFailed, StatusSucceeded, Context{})
	if got.Allowed || got.Reason != ReasonNotRecording {
		t.Fatalf("failed->succeeded allowed=%v reason=%s", got.Allowed, got.Reason)
	}
	for _, from := range []Status{StatusRunning, StatusBackfilling} {
		for _, to := range []Status{StatusSucceeded, StatusFailed} {
			if d := CanTransition(KindCaptureSession, from, to, Context{}); !d.Allowed {
				t.Fatalf("%s->%s denied reason=%s", from, to, d.Reason)
			}
		}
	}
}

func TestCanTransition_SameStatusIsNoop(t *testing.T) {
	got := CanTransition(KindRun, StatusArchived, StatusArchived, Context{OpenCaptureSessions: 3})
	if !got.Allowed || !got.Noop {
		t.Fatalf("allowed=%v noop=%v want both true", got.Allowed, got.Noop)
	}
}

func TestCanTransition_UnknownStatusIsValidation(t *testing.T) {
	got := CanTransition(KindRun, StatusDraft, Status("paused"), Context{})
	if got.Allowed {
		t.Fatalf("allowed unknown status")
	}
	err := got.Err(KindRun, StatusDraft, Status("paused"))
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("err=%v want validation", err)
	}
	got = CanTransition(KindRun, StatusSucceeded, StatusRunning, Context{})
	if err := got.Err(KindRun, StatusSucceeded, StatusRunning); !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("err=%v want conflict", err)
	}
}

func TestCanRemove(t *testing.T) {
	if d := CanRemove(KindCaptureSession, StatusRunning, Context{}); d.Allowed || d.Reason != ReasonCaptureActive {
		t.Fatalf("running session removal allowed=%v reason=%s", d.Allowed, d.Reason)
	}
	if d := CanRemove(KindCaptureSession, StatusBackfilling, Context{}); d.Allowed {
		t.Fatalf("backfilling session removal allowed")
	}
	if d := CanRemove(KindCaptureSession, StatusSucceeded, Context{}); !d.Allowed {
		t.Fatalf("succeeded session removal denied reason=%s", d.Reason)
	}
	if d := CanRemove(KindSensor, StatusActive, Context{ActiveReferences: 2}); d.Allowed || d.Reason != ReasonSensorInUse {
		t.Fatalf("referenced sensor removal allowed=%v reason=%s", d.Allowed, d.Reason)
	}
	if d := CanRemove(KindSensor, StatusActive, Context{}); !d.Allowed {
		t.Fatalf("idle sensor removal denied reason=%s", d.Reason)
	}
	if d := CanRemove(KindRun, StatusDraft, Context{}); d.Allowed {
		t.Fatalf("run removal allowed")
	}
}

func TestCheckBatch_AllOrNothing(t *testing.T) {
	items := []Candidate{
		{ID: "r1", Current: StatusRunning},
		{ID: "r2", Current: StatusRunning, Context: Context{OpenCaptureSessions: 1}},
		{ID: "r3", Current: StatusArchived},
	}
	violations := CheckBatch(KindRun, items, StatusSucceeded)
	if len(violations) != 2 {
		t.Fatalf("violations=%v want=2", violations)
	}
	if violations[0].ID != "r2" || violations[0].Reason != ReasonOpenCaptureSessions {
		t.Fatalf("violations[0]=%+v", violations[0])
	}
	if violations[1].ID != "r3" || violations[1].Reason != ReasonInvalidTransition {
		t.Fatalf("violations[1]=%+v", violations[1])
	}
	err := BatchErr(KindRun, StatusSucceeded, violations)
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindConflict {
		t.Fatalf("err=%v want conflict", err)
	}
	if len(e.IDs) != 2 || e.IDs[0] != "r2" || e.IDs[1] != "r3" {
		t.Fatalf("ids=%v want=[r2 r3]", e.IDs)
	}
	if CheckBatch(KindRun, items[:1], StatusSucceeded) != nil {
		t.Fatalf("clean batch returned violations")
	}
	if BatchErr(KindRun, StatusSucceeded, nil) != nil {
		t.Fatalf("empty violations returned error")
	}
}

func TestStatuses_Closed(t *testing.T) {
	got := Statuses(KindCaptureSession)
	if len(got) != 6 {
		t.Fatalf("capture statuses=%v want 6", got)
	}
	if Valid(KindSensor, StatusRunning) {
		t.Fatalf("running is not a sensor status")
	}
}
