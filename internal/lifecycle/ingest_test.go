package lifecycle

import (
	"testing"

	"experimentservice/internal/apperr"
)

func st(s Status) *Status { return &s }

func TestClassifyIngest(t *testing.T) {
	cases := []struct {
		name  string
		scope Scope
		want  IngestMode
		err   bool
	}{
		{"no scope", Scope{}, IngestLive, false},
		{"draft run", Scope{RunStatus: st(StatusDraft)}, IngestLive, false},
		{"succeeded run", Scope{RunStatus: st(StatusSucceeded)}, IngestLate, false},
		{"failed run", Scope{RunStatus: st(StatusFailed)}, IngestLate, false},
		{"archived run", Scope{RunStatus: st(StatusArchived)}, "", true},
		{"session decides over run", Scope{RunStatus: st(StatusSucceeded), CaptureStatus: st(StatusBackfilling)}, IngestLive, false},
		{"stopped session", Scope{RunStatus: st(StatusRunning), CaptureStatus: st(StatusFailed)}, IngestLate, false},
		{"archived session status", Scope{RunStatus: st(StatusRunning), CaptureStatus: st(StatusArchived)}, "", true},
		{"soft deleted session", Scope{RunStatus: st(StatusRunning), CaptureStatus: st(StatusRunning), CaptureArchived: true}, "", true},
	}
	for _, tc := range cases {
		got, err := ClassifyIngest(tc.scope)
		if tc.err {
			if !apperr.IsKind(err, apperr.KindConflict) {
				t.Fatalf("%s: err=%v want conflict", tc.name, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s: got=%s err=%v want=%s", tc.name, got, err, tc.want)
		}
	}
}
