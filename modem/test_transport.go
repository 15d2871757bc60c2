package modem

import (
	"io"
	"strings"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport
// using channels. This is needed because the Loop's scanner goroutine
// continuously reads from the transport, and reads must block until
// data is available (like a real serial port would).
//
// Responses can be scripted per command, and every written command is
// recorded for assertions.
type TestTransport struct {
	mu        sync.Mutex
	readChan  chan []byte
	writes    []string
	responses map[string]string
	closed    bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan:  make(chan []byte, 10),
		responses: make(map[string]string),
	}
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	cmd := strings.TrimSuffix(string(p), "\r\n")
	t.writes = append(t.writes, cmd)
	if resp, ok := t.responses[cmd]; ok {
		t.readChan <- []byte(resp)
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// Respond scripts the raw bytes to emit when cmd (without CRLF) is
// written.
func (t *TestTransport) Respond(cmd, response string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[cmd] = response
}

// SendData queues data to be read from the transport.
// This simulates the modem speaking on its own.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// SendLine queues a single CRLF-terminated line.
func (t *TestTransport) SendLine(line string) {
	t.SendData(line + "\r\n")
}

// Writes returns the commands written so far, without CRLF.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}
