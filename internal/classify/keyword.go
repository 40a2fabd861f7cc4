// Package classify turns hotline transcripts into call outcomes.
//
// Transcripts are whatever the telephony provider's speech recognition heard;
// they are lossy and frequently wrong. Matching here is therefore ordered and
// conservative: the higher-severity category always wins, and anything that
// matches neither vocabulary surfaces as Unknown.
package classify

import (
	"strings"

	"checkline/internal/calls"
)

// mustTestPhrases are scanned first. A transcript containing any of these is
// classified as must-report even if a no-test phrase also appears: missing a
// required check-in is the worse failure.
var mustTestPhrases = []string{
	"required to report",
	"required to test",
	"must report",
	"must test",
	"must come in",
	"report for testing",
	"report to the office",
	"testing is required",
	"scheduled for testing",
	"selected for testing",
}

// noTestPhrases are only consulted when no must-test phrase matched.
var noTestPhrases = []string{
	"do not need to test",
	"do not need to report",
	"not required to test",
	"not required to report",
	"do not have to test",
	"do not have to report",
	"no need to report",
	"no need to test",
	"not scheduled for testing",
	"no testing today",
}

// Keyword classifies a transcript against the two ordered phrase sets.
// Pure function: lower-cases the input, scans must-test phrases first, then
// no-test phrases, and falls back to Unknown.
func Keyword(transcript string) calls.Result {
	t := strings.ToLower(transcript)
	for _, p := range mustTestPhrases {
		if strings.Contains(t, p) {
			return calls.ResultMustReport
		}
	}
	for _, p := range noTestPhrases {
		if strings.Contains(t, p) {
			return calls.ResultNoActionNeeded
		}
	}
	return calls.ResultUnknown
}
