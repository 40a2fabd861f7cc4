package calls

import "testing"

func TestResultTerminal(t *testing.T) {
	for _, r := range []Result{ResultMustReport, ResultNoActionNeeded, ResultUnknown, ResultColorDetected} {
		if !r.Terminal() {
			t.Fatalf("expected %q terminal", r)
		}
	}
	if ResultRetryPending.Terminal() {
		t.Fatalf("retry_pending must not be terminal")
	}
}

func TestCallStatusTerminalFailure(t *testing.T) {
	if !CallStatusFailed.TerminalFailure() || !CallStatusBusy.TerminalFailure() {
		t.Fatalf("expected failure statuses to be terminal")
	}
	if CallStatusInProgress.TerminalFailure() || CallStatusCompleted.TerminalFailure() {
		t.Fatalf("in_progress/completed are not failures")
	}
}

func TestNotifyChannelValid(t *testing.T) {
	if !ChannelSMS.Valid() || !ChannelBoth.Valid() {
		t.Fatalf("expected valid channels")
	}
	if NotifyChannel("pigeon").Valid() {
		t.Fatalf("unexpected valid channel")
	}
}
