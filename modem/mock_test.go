package modem_test

import (
	"io"

	gomock "go.uber.org/mock/gomock"

	"github.com/zencross/tracker/modem"
)

// MockSequenceBuilder scripts a command/response session on a mock
// transport. The event loop's scanner reads eagerly, before the first
// command is even written, so reads cannot be ordered against writes.
// Instead a single Read expectation serves responses from a queue that
// each Write expectation feeds, and gomock.InOrder is applied to the
// writes alone.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	pending   chan string
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	b := &MockSequenceBuilder{
		transport: transport,
		pending:   make(chan string, 32),
	}
	transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		resp, ok := <-b.pending
		if !ok {
			return 0, io.EOF
		}
		return copy(p, resp), nil
	}).AnyTimes()
	return b
}

// Command expects cmd to be written and queues the raw response bytes
// for the reader.
func (b *MockSequenceBuilder) Command(cmd, response string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd+"\r\n")).DoAndReturn(func(p []byte) (int, error) {
			b.pending <- response
			return len(p), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	// Echo is still on for the very first command.
	return b.Command("AT", "AT\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Command("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.Command("AT+CMEE=2", "OK\r\n")
}

func (b *MockSequenceBuilder) PDPContext(apn string) *MockSequenceBuilder {
	return b.Command(`AT+CGDCONT=1,"IP","`+apn+`"`, "OK\r\n")
}

// Emit queues bytes the modem speaks on its own, such as an unsolicited
// result code.
func (b *MockSequenceBuilder) Emit(raw string) *MockSequenceBuilder {
	b.pending <- raw
	return b
}

// Build returns the ordered write expectations for gomock.InOrder.
func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// Finish releases the reader with EOF once the queued responses are
// consumed. The mock transport's Read does not unblock on Close the way
// a real port's would, so tests call Finish after closing the modem.
func (b *MockSequenceBuilder) Finish() {
	close(b.pending)
}

// initSequence appends the expectations for a successful Init without
// an APN.
func initSequence(b *MockSequenceBuilder) *MockSequenceBuilder {
	return b.AT().EchoOff().VerboseErrors()
}
