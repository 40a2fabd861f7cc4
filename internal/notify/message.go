// Package notify delivers resolved call outcomes to subscribers over
// SMS, email and voice.
package notify

import (
	"fmt"

	"checkline/internal/calls"
)

// Message is a rendered, channel-independent notification. SMS and voice use
// Body alone; email uses Subject + Body.
type Message struct {
	Subject string
	Body    string
}

// RenderResult renders the outcome of a subscriber check-in call. Each
// outcome gets its own tone: "must act" is unambiguous and urgent, "no
// action" is reassuring, and "ambiguous" explicitly tells the subscriber to
// verify manually rather than pretending to know.
func RenderResult(result calls.Result) Message {
	switch result {
	case calls.ResultMustReport:
		return Message{
			Subject: "ACTION REQUIRED: report for testing today",
			Body:    "Your check-in line says you ARE required to report for testing today. Please report to your office during business hours.",
		}
	case calls.ResultNoActionNeeded:
		return Message{
			Subject: "No testing required today",
			Body:    "Your check-in line says you are NOT required to test today. No action is needed.",
		}
	default:
		return Message{
			Subject: "Check-in result unclear - please verify",
			Body:    "We completed your check-in call but could not understand the announcement. Please call the line yourself to verify. We will not retry again today.",
		}
	}
}

// RenderColor renders a detected office color announcement.
func RenderColor(officeName, color, color2 string) Message {
	if color2 != "" {
		return Message{
			Subject: fmt.Sprintf("%s colors today: %s / %s", officeName, color, color2),
			Body:    fmt.Sprintf("Today's colors for %s are %s and %s. If either is your color, you must report for testing today.", officeName, color, color2),
		}
	}
	return Message{
		Subject: fmt.Sprintf("%s color today: %s", officeName, color),
		Body:    fmt.Sprintf("Today's color for %s is %s. If this is your color, you must report for testing today.", officeName, color),
	}
}

// RenderCallFailed renders the terminal notice for a call that never
// completed (no answer, busy, provider failure). The subscriber requested a
// check-in, so silence is not an option.
func RenderCallFailed() Message {
	return Message{
		Subject: "Check-in call failed - please verify",
		Body:    "We could not complete your check-in call today (the line did not answer or the call failed). Please call the line yourself to verify.",
	}
}

// RenderCreditsSkip renders the notice for a schedule firing skipped due to
// exhausted call credits.
func RenderCreditsSkip() Message {
	return Message{
		Subject: "Check-in skipped: out of call credits",
		Body:    "Your scheduled check-in call was skipped because your account has no call credits remaining. Please top up to resume automatic check-ins.",
	}
}

// RenderScheduleDisabled renders the notice sent when repeated skips
// auto-disable a schedule.
func RenderScheduleDisabled() Message {
	return Message{
		Subject: "Automatic check-ins disabled",
		Body:    "Your scheduled check-in was skipped several days in a row, so automatic check-ins have been disabled. Re-enable the schedule after topping up to resume.",
	}
}
