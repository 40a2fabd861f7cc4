// Package dtmf builds the timed touch-tone script that navigates the hotline
// IVR. The target line has no programmatic API; the only control surface is
// digits and silence, so the wait lengths below are calibrated against the
// line's own prompt timing. Changing them is a deployment-time tuning action,
// not a runtime decision.
package dtmf

import (
	"errors"
	"fmt"
	"strings"
)

// Twilio Play digits semantics: each 'w' is a half-second pause.
const pause = "w"

// Named waits of the fixed navigation script, in half-second units.
const (
	greetingWait       = 6 // line greeting before the menu responds
	languagePromptWait = 4 // after selecting English
	codeEntryWait      = 3 // menu prompt before the code is accepted
	confirmationWait   = 5 // hold for the confirmation prompt before '#'
)

// Menu keys of the fixed script.
const (
	languageKey  = "1"
	checkInKey   = "2"
	terminateKey = "#"
)

// CodeLength is the only accepted secret-code length. A wrong-length code is
// a misconfiguration and must be caught before dialing.
const CodeLength = 6

var (
	ErrCodeLength    = fmt.Errorf("dtmf: code must be exactly %d digits", CodeLength)
	ErrCodeNotDigits = errors.New("dtmf: code must be numeric")
)

// Sequence builds the digit/pause string for a subscriber check-in call:
// wait out the greeting, pick the language, enter the check-in menu, key in
// the code, and hold for the confirmation. Output is byte-identical for a
// given code, and its length is a pure function of the code length.
func Sequence(code string) (string, error) {
	if err := ValidateCode(code); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(strings.Repeat(pause, greetingWait))
	b.WriteString(languageKey)
	b.WriteString(strings.Repeat(pause, languagePromptWait))
	b.WriteString(checkInKey)
	b.WriteString(strings.Repeat(pause, codeEntryWait))
	b.WriteString(code)
	b.WriteString(strings.Repeat(pause, confirmationWait))
	b.WriteString(terminateKey)
	return b.String(), nil
}

// StatusSequence is the script for status-only (color code) lines, which have
// no code entry: wait out the greeting and select the announcement menu.
func StatusSequence() string {
	var b strings.Builder
	b.WriteString(strings.Repeat(pause, greetingWait))
	b.WriteString(languageKey)
	b.WriteString(strings.Repeat(pause, languagePromptWait))
	b.WriteString(checkInKey)
	return b.String()
}

// ValidateCode rejects a malformed secret code before any call is placed.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return ErrCodeLength
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return ErrCodeNotDigits
		}
	}
	return nil
}
