package classify

import (
	"regexp"
	"strings"
)

// Color-code hotlines announce a rotating color token instead of a yes/no
// instruction. Extraction is layered; each layer is tried only when the
// previous one found nothing, and the first hit wins. The layers and their
// precedence are domain-given (they overlap and occasionally contradict each
// other, e.g. "tan" is both a color and a misrecognition target); do not
// reorder them.

// colorVocabulary is the curated set of tokens known to be used by the target
// hotlines. Whole-word match against this list is the most reliable signal.
var colorVocabulary = []string{
	"red", "blue", "green", "yellow", "orange", "purple", "pink",
	"white", "black", "brown", "gray", "grey", "gold", "silver",
	"tan", "violet", "maroon", "teal", "aqua", "magenta", "crimson",
	"navy", "canary", "ruby", "emerald", "amber", "indigo", "coral",
	"turquoise", "lavender", "platinum", "copper", "bronze",
}

// misrecognitions maps phonetic near-misses the speech engine produces to the
// color that was actually announced.
var misrecognitions = map[string]string{
	"read":    "red",
	"blew":    "blue",
	"blu":     "blue",
	"grean":   "green",
	"yello":   "yellow",
	"orang":   "orange",
	"purpose": "purple",
	"violent": "violet",
	"teel":    "teal",
	"mourn":   "maroon",
	"canery":  "canary",
	"ten":     "tan",
	"tam":     "tan",
	"pan":     "tan",
	"than":    "tan",
	"cold":    "gold",
	"sliver":  "silver",
	"nevi":    "navy",
}

// extractionStopwords reject grammatical filler that the pattern layers would
// otherwise pick up as a "color".
var extractionStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {},
	"for": {}, "to": {}, "of": {}, "and": {}, "or": {}, "not": {},
	"no": {}, "today": {}, "tomorrow": {}, "your": {}, "our": {},
	"this": {}, "that": {}, "it": {}, "be": {}, "will": {},
	"code": {}, "color": {}, "group": {}, "number": {},
}

var (
	vocabularySet     = buildVocabularySet()
	phrasePattern     = regexp.MustCompile(`(?:color|status)(?:\s+(?:code|group))?(?:\s+for\s+today|\s+today)?\s+(?:is|will\s+be)\s+([a-z]+)`)
	lastResortPattern = regexp.MustCompile(`\b(?:is|color)\s+([a-z]+)`)
	wordPattern       = regexp.MustCompile(`[a-z]+`)
)

func buildVocabularySet() map[string]struct{} {
	out := make(map[string]struct{}, len(colorVocabulary))
	for _, c := range colorVocabulary {
		out[c] = struct{}{}
	}
	return out
}

// Color extracts the announced status token from a transcript.
// Returns the normalized token and true, or "" and false when no layer
// matched. The false case must propagate to the caller as an Unknown outcome,
// never as a guessed value.
func Color(transcript string) (string, bool) {
	t := strings.ToLower(transcript)

	// 1: exact vocabulary word. Scan the transcript's words in order so the
	// first color spoken wins; announcements mention other colors in
	// boilerplate ("yesterday was red", "if your color is called...") and
	// those must never override the announced one.
	for _, w := range wordPattern.FindAllString(t, -1) {
		if _, ok := vocabularySet[w]; ok {
			return normalizeColor(w), true
		}
	}

	// 2: "color ... is X" phrasing.
	if m := phrasePattern.FindStringSubmatch(t); len(m) == 2 {
		if _, stop := extractionStopwords[m[1]]; !stop {
			return normalizeColor(m[1]), true
		}
	}

	// 3: known misrecognitions anywhere in the transcript.
	for _, w := range wordPattern.FindAllString(t, -1) {
		if fixed, ok := misrecognitions[w]; ok {
			return normalizeColor(fixed), true
		}
	}

	// 4: first content word after "is" or "color".
	for _, m := range lastResortPattern.FindAllStringSubmatch(t, -1) {
		if _, stop := extractionStopwords[m[1]]; !stop {
			return normalizeColor(m[1]), true
		}
	}

	return "", false
}

// ColorPair extracts up to two tokens for offices that announce two parallel
// tracks ("the color today is canary and phase two is tan"). The second value
// is empty when the office announced a single track.
func ColorPair(transcript string) (string, string, bool) {
	t := strings.ToLower(transcript)

	idx := strings.Index(t, "today is")
	if idx < 0 {
		idx = strings.Index(t, "today will be")
	}
	if idx >= 0 {
		t = t[idx:]
	}
	// Trim at the sign-off; everything after it is boilerplate.
	for _, term := range []string{"thank you", "goodbye", "press "} {
		if i := strings.Index(t, term); i >= 0 {
			t = t[:i]
		}
	}

	parts := splitTracks(t)
	found := make([]string, 0, 2)
	for _, p := range parts {
		if c, ok := Color(p); ok {
			found = append(found, c)
			if len(found) == 2 {
				break
			}
		}
	}

	switch len(found) {
	case 0:
		return "", "", false
	case 1:
		return found[0], "", true
	default:
		return found[0], found[1], true
	}
}

func splitTracks(t string) []string {
	t = strings.ReplaceAll(t, ",", " and ")
	return strings.Split(t, " and ")
}

func normalizeColor(c string) string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(c[:1]) + c[1:]
}
