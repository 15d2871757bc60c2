package at

import (
	"regexp"
	"strings"
)

var eventPattern = regexp.MustCompile(`^%(\w+):(.+)$`)

// Event is an unsolicited result code, split into its tag and the raw
// payload after the colon.
type Event struct {
	Tag     string
	Payload string
}

// ParseEvent splits a %TAG:payload line. It reports false for lines in
// any other shape.
func ParseEvent(line string) (Event, bool) {
	m := eventPattern.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	return Event{Tag: m[1], Payload: strings.TrimSpace(m[2])}, true
}

// Result is the outcome of one command/response exchange.
type Result struct {
	// Command is the command line as sent, without CRLF.
	Command string
	// Success reports whether the exchange ended with OK. It is false
	// after ERROR, a +CME ERROR report, or a response timeout.
	Success bool
	// Lines holds the label-stripped information lines in arrival
	// order. After a timeout it holds whatever arrived before the
	// deadline.
	Lines []string
	// Fields is the comma-split view of a single-line response, with
	// quotes removed and whitespace trimmed. It is nil when the
	// response has zero or several lines.
	Fields []string
}

// NewResult builds a Result and derives the Fields view.
func NewResult(command string, success bool, lines []string) Result {
	r := Result{Command: command, Success: success, Lines: lines}
	if len(lines) == 1 {
		r.Fields = splitFields(lines[0])
	}
	return r
}

// Text returns the information lines joined with newlines.
func (r Result) Text() string {
	return strings.Join(r.Lines, "\n")
}

// StripLabel removes a leading "LABEL:" from an information line, so
// `%SOCKETDATA: 1,0,4,"74657374"` becomes `1,0,4,"74657374"`. Lines
// without a colon are returned trimmed.
func StripLabel(line string) string {
	if i := strings.IndexByte(line, ':'); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}
	return strings.TrimSpace(line)
}

func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	fields := make([]string, len(parts))
	for i, p := range parts {
		fields[i] = strings.TrimSpace(strings.ReplaceAll(p, `"`, ""))
	}
	return fields
}
