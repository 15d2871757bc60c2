package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zencross/tracker/at"
)

// Modem represents a cellular IoT modem driven over AT commands. All
// transport I/O flows through a centralized event loop, which keeps
// command/response exchanges strictly sequential and ensures unsolicited
// result codes are never mixed into command responses.
type Modem struct {
	// dialer reopens the transport when the stream breaks
	dialer Dialer
	// config contains the modem configuration settings
	config Config
	log    *slog.Logger

	// events receives unsolicited result codes from the modem
	events chan at.Event
	// commands queues AT command requests for the Loop to process.
	// No queue: the channel is unbuffered and the loop only receives
	// when no command is in flight.
	commands chan *commandRequest

	// mu guards the fields below
	mu          sync.Mutex
	transport   Transport
	closed      bool
	loopRunning bool
}

// commandRequest represents an AT command request to be executed by the
// Loop.
type commandRequest struct {
	// cmd is the AT command string to send to the modem
	cmd string
	// respChan receives the command outcome from the Loop. Buffered so
	// the loop never blocks on an abandoned caller.
	respChan chan commandResponse
	// deadline fires when the response window for this command ends.
	// Set by the loop once the command has been written.
	deadline <-chan time.Time
}

type commandResponse struct {
	result at.Result
	err    error
}

// New creates a new Modem instance with the given configuration and
// establishes the transport connection. The event loop is not started;
// call Loop before issuing commands.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	return &Modem{
		dialer:    config.Dialer,
		config:    config,
		log:       config.Logger,
		transport: transport,
		events:    make(chan at.Event, config.EventBuffer),
		commands:  make(chan *commandRequest),
	}, nil
}

// Loop is the main event loop that handles all transport I/O. It must be
// running before Send or Init is called, and at most one Loop may run per
// Modem. The loop:
//
// 1. Accepts one command at a time from Send() calls
// 2. Writes the command to the transport
// 3. Reads and classifies response lines
// 4. Dispatches unsolicited events to the Events channel
// 5. Completes the in-flight command on its final line or deadline
//
// When the transport breaks, the loop redials through the Dialer with
// exponential backoff and carries on. It returns when the context is
// cancelled or the modem is closed.
func (m *Modem) Loop(ctx context.Context) error {
	m.mu.Lock()
	if m.loopRunning {
		m.mu.Unlock()
		return ErrLoopRunning
	}
	m.loopRunning = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.loopRunning = false
		m.mu.Unlock()
	}()

	for {
		err := m.readLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.isClosed() {
			return nil
		}

		m.log.Warn("transport lost", "error", err)
		if err := m.reopen(ctx); err != nil {
			if errors.Is(err, ErrAlreadyClosed) {
				return nil
			}
			return err
		}
	}
}

// readLoop drives one transport session. It returns the reason the
// session ended; deciding whether to redial is Loop's job.
func (m *Modem) readLoop(ctx context.Context) error {
	transport := m.currentTransport()
	if transport == nil {
		return ErrNotInitialized
	}

	scanner := bufio.NewScanner(transport)
	scanner.Split(at.Splitter)

	// Channels for tokens and errors from the scanner goroutine
	tokens := make(chan string, 10)
	scanErrs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(tokens)
		for scanner.Scan() {
			token := scanner.Text()
			if token == "" {
				continue
			}
			select {
			case tokens <- token:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case scanErrs <- err:
			case <-done:
			case <-ctx.Done():
			}
		}
	}()

	// Current command being processed
	var (
		currentCmd   *commandRequest
		currentLines []string
	)

	finish := func(success bool, err error) {
		currentCmd.respChan <- commandResponse{
			result: at.NewResult(currentCmd.cmd, success, currentLines),
			err:    err,
		}
		currentCmd = nil
		currentLines = nil
	}

	for {
		// Refuse new commands while one is in flight: a nil channel
		// never receives.
		var (
			cmds     chan *commandRequest
			deadline <-chan time.Time
		)
		if currentCmd == nil {
			cmds = m.commands
		} else {
			deadline = currentCmd.deadline
		}

		select {
		case <-ctx.Done():
			if currentCmd != nil {
				finish(false, ctx.Err())
			}
			return ctx.Err()

		case req := <-cmds:
			currentLines = nil
			line := strings.TrimSpace(req.cmd) + at.CRLF
			if _, err := transport.Write([]byte(line)); err != nil {
				err = fmt.Errorf("write command %q: %w", req.cmd, err)
				req.respChan <- commandResponse{result: at.NewResult(req.cmd, false, nil), err: err}
				return err
			}
			req.deadline = time.After(m.config.ATTimeout)
			currentCmd = req
			m.log.Debug("command sent", "command", req.cmd)

		case <-deadline:
			// No final line within the response window. The partial
			// lines go back to the caller as a failed result; the line
			// stream itself is still healthy.
			m.log.Debug("command timed out", "command", currentCmd.cmd, "lines", len(currentLines))
			finish(false, nil)

		case token, ok := <-tokens:
			if !ok {
				// Scanner stopped: transport EOF or read error.
				var err error
				select {
				case err = <-scanErrs:
					err = fmt.Errorf("read: %w", err)
				default:
					err = io.EOF
				}
				if currentCmd != nil {
					finish(false, err)
				}
				return err
			}

			m.log.Debug("line received", "line", token)

			switch at.Classify(token) {
			case at.TypeURC:
				// Unsolicited result codes can arrive at any time, even
				// mid-command, and are handed to the consumer channel.
				if ev, ok := at.ParseEvent(token); ok {
					select {
					case m.events <- ev:
					default:
						m.log.Warn("event buffer full, dropping", "tag", ev.Tag, "payload", ev.Payload)
					}
				}

			case at.TypeFinal:
				if currentCmd == nil {
					// Orphaned final line, likely from a command that
					// already timed out.
					continue
				}
				success := token == at.OK
				if !success {
					m.log.Debug("command failed", "command", currentCmd.cmd, "status", token)
				}
				finish(success, nil)

			case at.TypeData:
				if currentCmd != nil {
					currentLines = append(currentLines, at.StripLabel(token))
				}
				// Orphaned data is ignored.
			}
		}
	}
}

// reopen closes the broken transport and redials with exponential
// backoff until it succeeds, the context is cancelled, or the modem is
// closed.
func (m *Modem) reopen(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.mu.Unlock()

	delay := m.config.ReopenMinDelay
	for {
		transport, err := m.dialer.Dial(ctx)
		if err == nil && transport != nil {
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				transport.Close()
				return ErrAlreadyClosed
			}
			m.transport = transport
			m.mu.Unlock()
			m.log.Info("transport reopened")
			return nil
		}

		m.log.Warn("reopen failed", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > m.config.ReopenMaxDelay {
			delay = m.config.ReopenMaxDelay
		}
	}
}

// Send submits one AT command to the event loop and waits for its
// outcome. Commands are processed strictly one at a time; concurrent
// callers queue on the commands channel in arrival order.
//
// A response timeout is not an error: the returned Result has
// Success=false and holds whatever lines arrived. The error return is
// reserved for transport and lifecycle failures.
func (m *Modem) Send(ctx context.Context, cmd string) (at.Result, error) {
	if m.isClosed() {
		return at.Result{}, ErrAlreadyClosed
	}

	req := &commandRequest{
		cmd:      cmd,
		respChan: make(chan commandResponse, 1),
	}

	select {
	case m.commands <- req:
	case <-ctx.Done():
		return at.Result{}, fmt.Errorf("command %q cancelled before sending: %w", cmd, ctx.Err())
	}

	select {
	case resp := <-req.respChan:
		return resp.result, resp.err
	case <-ctx.Done():
		return at.Result{}, fmt.Errorf("command %q cancelled: %w", cmd, ctx.Err())
	}
}

// Events returns the channel of unsolicited result codes. The channel
// is buffered; events are dropped when the consumer falls behind.
func (m *Modem) Events() <-chan at.Event {
	return m.events
}

// NextEvent waits up to timeout for an unsolicited event. It reports
// false when the wait elapsed with nothing to deliver.
func (m *Modem) NextEvent(timeout time.Duration) (at.Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-m.events:
		return ev, true
	case <-timer.C:
		return at.Event{}, false
	}
}

// Init performs the initial AT setup sequence: sanity check, echo off,
// verbose errors, and the PDP context when an APN is configured. The
// event loop must be running.
func (m *Modem) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.InitTimeout)
	defer cancel()

	if err := m.expectOK(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}
	if err := m.expectOK(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}
	if err := m.expectOK(ctx, at.CmdVerboseErrors); err != nil {
		return fmt.Errorf("could not enable verbose errors: %w", err)
	}
	if m.config.APN != "" {
		if err := m.expectOK(ctx, fmt.Sprintf(`AT+CGDCONT=1,"IP","%s"`, m.config.APN)); err != nil {
			return fmt.Errorf("could not define PDP context: %w", err)
		}
	}
	return nil
}

// expectOK sends a command that should succeed with a plain OK.
func (m *Modem) expectOK(ctx context.Context, cmd string) error {
	res, err := m.Send(ctx, cmd)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("command %q failed: %q", cmd, res.Text())
	}
	return nil
}

// Close shuts down the modem and releases the transport. Closing the
// transport unblocks the event loop's reader, which lets Loop return
// cleanly. After Close the modem cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	transport := m.transport
	m.transport = nil
	m.mu.Unlock()

	if transport != nil {
		return transport.Close()
	}
	return nil
}

func (m *Modem) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Modem) currentTransport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}
