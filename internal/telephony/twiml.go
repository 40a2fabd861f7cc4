package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strconv"
)

// Minimal TwiML response builder. It intentionally avoids any provider SDK
// dependency; only the verbs the call flow needs are modeled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  string   `xml:"length,attr"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Digits  string   `xml:"digits,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr,omitempty"`
	Timeout       string   `xml:"timeout,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Response accumulates TwiML verbs in order.
type Response struct {
	verbs []any
}

func (r *Response) Say(text string) *Response {
	r.verbs = append(r.verbs, twimlSay{Text: text})
	return r
}

func (r *Response) Pause(seconds int) *Response {
	r.verbs = append(r.verbs, twimlPause{Length: strconv.Itoa(seconds)})
	return r
}

// PlayDigits emits touch tones; 'w' characters are half-second pauses.
func (r *Response) PlayDigits(digits string) *Response {
	r.verbs = append(r.verbs, twimlPlay{Digits: digits})
	return r
}

// GatherSpeech opens a speech-capture window. timeout bounds the wait for any
// speech to start; speechTimeout is the settle time after the speaker stops.
// Control falls through to the verbs after Gather (typically a Redirect to the
// fallback handler) when the window elapses with nothing heard.
func (r *Response) GatherSpeech(actionURL string, timeout, speechTimeout int) *Response {
	r.verbs = append(r.verbs, twimlGather{
		Input:         "speech",
		Action:        actionURL,
		Method:        "POST",
		Timeout:       strconv.Itoa(timeout),
		SpeechTimeout: strconv.Itoa(speechTimeout),
	})
	return r
}

func (r *Response) Redirect(url string) *Response {
	r.verbs = append(r.verbs, twimlRedirect{Method: "POST", URL: url})
	return r
}

func (r *Response) Hangup() *Response {
	r.verbs = append(r.verbs, twimlHangup{})
	return r
}

// Render serializes the response document.
func (r *Response) Render() (string, error) {
	if len(r.verbs) == 0 {
		return "", errors.New("telephony: empty twiml response")
	}
	doc := twimlResponse{Verbs: r.verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HangupResponse is the safe document for sessions that cannot be found:
// apologize and end the call without touching any state.
func HangupResponse(message string) string {
	r := &Response{}
	if message != "" {
		r.Say(message)
	}
	r.Hangup()
	out, err := r.Render()
	if err != nil {
		// Render only fails on an empty verb list, which Hangup precludes.
		return xml.Header + "<Response><Hangup/></Response>"
	}
	return out
}
