package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is a bufio.SplitFunc that tokenizes the modem byte stream
// into lines. Lines are CRLF-terminated; blank lines between responses
// become empty tokens that callers skip.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify determines what a tokenized line is. %TAG: lines are events
// only when the tag is a known unsolicited code; labelled lines such as
// %SOCKETDATA: are data for the command in flight.
func Classify(line string) ResponseType {
	switch {
	case line == OK, line == ERROR:
		return TypeFinal
	case strings.HasPrefix(line, CmeError):
		return TypeFinal
	}
	if ev, ok := ParseEvent(line); ok {
		if _, known := urcTags[ev.Tag]; known {
			return TypeURC
		}
	}
	return TypeData
}
