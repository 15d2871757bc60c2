package modem_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/zencross/tracker/at"
	"github.com/zencross/tracker/modem"
)

// startTestModem wires a TestTransport into a modem with a running
// event loop. The loop is torn down through t.Cleanup.
func startTestModem(t *testing.T, tr *modem.TestTransport, configure func(*modem.ConfigBuilder) *modem.ConfigBuilder) *modem.Modem {
	t.Helper()

	ctrl := gomock.NewController(t)
	mockDialer := modem.NewMockDialer(ctrl)
	mockDialer.EXPECT().Dial(gomock.Any()).Return(tr, nil)

	builder := modem.NewConfigBuilder().
		WithDialer(mockDialer).
		WithATTimeout(2 * time.Second)
	if configure != nil {
		builder = configure(builder)
	}
	config, err := builder.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- m.Loop(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Loop exited with: %v", err)
		}
		m.Close()
	})
	return m
}

func TestModemNew(t *testing.T) {
	t.Run("Connects through the dialer", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Close().Return(nil)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if m == nil {
			t.Fatal("New() should return valid modem on success")
		}

		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection failed"))

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err == nil {
			t.Error("expected error from dialer failure")
		}
		if m != nil {
			t.Error("New() should return nil modem when dialer fails")
		}
	})

	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		m, err := modem.New(context.Background(), modem.Config{})
		if !errors.Is(err, modem.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer from New(), got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when no dialer provided")
		}
	})

	t.Run("ErrNotInitialized on nil transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		_, err = modem.New(context.Background(), config)
		if !errors.Is(err, modem.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized from New(), got: %v", err)
		}
	})
}

func TestModemInit(t *testing.T) {
	t.Run("Runs the startup sequence", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		seq := initSequence(NewMockSequence(mockTransport))

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			seq.Build(),
			[]any{
				mockTransport.EXPECT().Close().DoAndReturn(func() error {
					seq.Finish()
					return nil
				}),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(context.Background())
		}()

		if err := m.Init(context.Background()); err != nil {
			t.Errorf("unexpected error from Init(): %v", err)
		}

		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
		if err := <-loopDone; err != nil {
			t.Errorf("Loop should return nil after Close, got: %v", err)
		}
	})

	t.Run("Defines the PDP context when an APN is set", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		seq := initSequence(NewMockSequence(mockTransport)).PDPContext("iot.provider.net")

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			},
			seq.Build(),
			[]any{
				mockTransport.EXPECT().Close().DoAndReturn(func() error {
					seq.Finish()
					return nil
				}),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithAPN("iot.provider.net").
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(context.Background())
		}()

		if err := m.Init(context.Background()); err != nil {
			t.Errorf("unexpected error from Init(): %v", err)
		}

		m.Close()
		<-loopDone
	})

	t.Run("Fails when the modem does not respond OK", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT", "ERROR\r\n")

		m := startTestModem(t, tr, nil)

		err := m.Init(context.Background())
		if err == nil {
			t.Fatal("expected error from Init()")
		}
		if !strings.Contains(err.Error(), "not responding") {
			t.Errorf("expected 'not responding' in error, got: %v", err)
		}
	})
}

func TestModemSend(t *testing.T) {
	t.Run("Returns the identity response with fields", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+CGSN", "358419511056392\r\nOK\r\n")

		m := startTestModem(t, tr, nil)

		res, err := m.Send(context.Background(), "AT+CGSN")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Success {
			t.Error("expected Success for OK final")
		}
		if res.Text() != "358419511056392" {
			t.Errorf("Text() = %q, want the IMEI", res.Text())
		}
		if !slices.Equal(res.Fields, []string{"358419511056392"}) {
			t.Errorf("Fields = %q", res.Fields)
		}
	})

	t.Run("Strips labels and quotes from response data", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+COPS?", "+COPS: 0,2,\"26201\",7\r\nOK\r\n")

		m := startTestModem(t, tr, nil)

		res, err := m.Send(context.Background(), "AT+COPS?")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"0", "2", "26201", "7"}
		if !slices.Equal(res.Fields, want) {
			t.Errorf("Fields = %q, want %q", res.Fields, want)
		}
	})

	t.Run("ERROR final yields a failed result, not an error", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond(`AT%SOCKETCMD="ACTIVATE",1`, "+CME ERROR: operation not allowed\r\n")

		m := startTestModem(t, tr, nil)

		res, err := m.Send(context.Background(), `AT%SOCKETCMD="ACTIVATE",1`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Success {
			t.Error("expected Success=false after +CME ERROR")
		}
	})

	t.Run("Timeout returns partial lines and no error", func(t *testing.T) {
		tr := modem.NewTestTransport()
		// Data arrives but the final line never does.
		tr.Respond("AT+COPS?", "+COPS: 0,2\r\n")

		m := startTestModem(t, tr, func(b *modem.ConfigBuilder) *modem.ConfigBuilder {
			return b.WithATTimeout(50 * time.Millisecond)
		})

		start := time.Now()
		res, err := m.Send(context.Background(), "AT+COPS?")
		if err != nil {
			t.Fatalf("timeout should not be an error, got: %v", err)
		}
		if res.Success {
			t.Error("expected Success=false on timeout")
		}
		if !slices.Equal(res.Lines, []string{"0,2"}) {
			t.Errorf("Lines = %q, want the partial data", res.Lines)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("timeout took %v, want about 50ms", elapsed)
		}
	})

	t.Run("Late final after a timeout is orphaned", func(t *testing.T) {
		tr := modem.NewTestTransport()

		m := startTestModem(t, tr, func(b *modem.ConfigBuilder) *modem.ConfigBuilder {
			return b.WithATTimeout(50 * time.Millisecond)
		})

		res, err := m.Send(context.Background(), "AT+CGSN")
		if err != nil || res.Success {
			t.Fatalf("expected a clean timeout, got res=%+v err=%v", res, err)
		}

		// The response shows up after the window has closed. The loop
		// must swallow it without crashing or corrupting later
		// commands.
		tr.SendLine("358419511056392")
		tr.SendLine("OK")
		time.Sleep(100 * time.Millisecond)

		tr.Respond("AT", "OK\r\n")
		res, err = m.Send(context.Background(), "AT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Success {
			t.Error("expected the loop to stay healthy after an orphaned final")
		}
	})

	t.Run("Concurrent senders are serialized", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT", "OK\r\n")

		m := startTestModem(t, tr, nil)

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := m.Send(context.Background(), "AT")
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if !res.Success {
					t.Error("expected every serialized command to succeed")
				}
			}()
		}
		wg.Wait()

		if writes := tr.Writes(); len(writes) != 10 {
			t.Errorf("got %d writes, want 10", len(writes))
		}
	})

	t.Run("ErrAlreadyClosed after Close", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Close().Return(nil)

		config, err := modem.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}

		m.Close()
		if _, err := m.Send(context.Background(), "AT"); !errors.Is(err, modem.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
	})
}

func TestModemEvents(t *testing.T) {
	t.Run("URC inside a response is routed to events", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT+COPS?", "%SOCKETEV:1,64\r\n+COPS: 0,2,\"26201\",7\r\nOK\r\n")

		m := startTestModem(t, tr, nil)

		res, err := m.Send(context.Background(), "AT+COPS?")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(res.Lines, []string{"0,2,26201,7"}) {
			t.Errorf("URC leaked into response lines: %q", res.Lines)
		}

		ev, ok := m.NextEvent(time.Second)
		if !ok {
			t.Fatal("expected a pending event")
		}
		if ev.Tag != at.UrcSocketEvent || ev.Payload != "1,64" {
			t.Errorf("event = %+v, want SOCKETEV 1,64", ev)
		}
	})

	t.Run("Unsolicited line with no command in flight", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := startTestModem(t, tr, nil)

		tr.SendLine("%STATEV:2")

		ev, ok := m.NextEvent(time.Second)
		if !ok {
			t.Fatal("expected a pending event")
		}
		if ev.Tag != at.UrcStateEvent || ev.Payload != "2" {
			t.Errorf("event = %+v, want STATEV 2", ev)
		}
	})

	t.Run("NextEvent times out with nothing pending", func(t *testing.T) {
		tr := modem.NewTestTransport()
		m := startTestModem(t, tr, nil)

		if _, ok := m.NextEvent(30 * time.Millisecond); ok {
			t.Error("expected no event")
		}
	})

	t.Run("Events are dropped when the buffer is full", func(t *testing.T) {
		tr := modem.NewTestTransport()
		tr.Respond("AT", "%SOCKETEV:1\r\n%SOCKETEV:2\r\n%SOCKETEV:3\r\nOK\r\n")

		m := startTestModem(t, tr, func(b *modem.ConfigBuilder) *modem.ConfigBuilder {
			return b.WithEventBuffer(1)
		})

		// By the time Send returns, the loop has classified every line,
		// so the overflow drops have already happened.
		if _, err := m.Send(context.Background(), "AT"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		ev, ok := m.NextEvent(time.Second)
		if !ok || ev.Payload != "1" {
			t.Fatalf("expected the first event to survive, got %+v ok=%v", ev, ok)
		}
		if _, ok := m.NextEvent(30 * time.Millisecond); ok {
			t.Error("expected later events to have been dropped")
		}
	})
}

func TestModemLoop(t *testing.T) {
	t.Run("Returns nil when closed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		seq := NewMockSequence(mockTransport)

		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Close().DoAndReturn(func() error {
			seq.Finish()
			return nil
		})

		config, err := modem.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(context.Background())
		}()

		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
		if err := <-loopDone; err != nil {
			t.Errorf("expected Loop to return nil after Close, got: %v", err)
		}
	})

	t.Run("Exits gracefully on context cancellation", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)

		config, err := modem.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		m, err := modem.New(ctx, config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}

		// Coordinate cancellation timing
		readStarted := make(chan struct{})

		// Read should block until context is cancelled
		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			close(readStarted)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		mockTransport.EXPECT().Close().Return(nil)
		defer m.Close()

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		// Wait for read to start, then cancel
		<-readStarted
		cancel()

		if err := <-loopDone; !errors.Is(err, context.Canceled) {
			t.Errorf("expected Loop to return context.Canceled, got: %v", err)
		}
	})

	t.Run("Redials after the transport breaks", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		first := modem.NewMockTransport(ctrl)
		second := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		seq1 := NewMockSequence(first).Command("AT", "OK\r\n")
		seq2 := NewMockSequence(second).Command("AT", "OK\r\n")

		gomock.InOrder(slices.Concat(
			[]any{
				mockDialer.EXPECT().Dial(gomock.Any()).Return(first, nil),
			},
			seq1.Build(),
			[]any{
				// Reopen closes the broken transport before redialing.
				first.EXPECT().Close().Return(nil),
				mockDialer.EXPECT().Dial(gomock.Any()).Return(second, nil),
			},
			seq2.Build(),
			[]any{
				second.EXPECT().Close().DoAndReturn(func() error {
					seq2.Finish()
					return nil
				}),
			},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithReopenDelay(time.Millisecond, 10*time.Millisecond).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(context.Background())
		}()

		res, err := m.Send(context.Background(), "AT")
		if err != nil || !res.Success {
			t.Fatalf("first session command failed: res=%+v err=%v", res, err)
		}

		// Break the first transport; the loop should redial and keep
		// serving commands.
		seq1.Finish()

		res, err = m.Send(context.Background(), "AT")
		if err != nil || !res.Success {
			t.Fatalf("command after redial failed: res=%+v err=%v", res, err)
		}

		m.Close()
		if err := <-loopDone; err != nil {
			t.Errorf("expected Loop to return nil after Close, got: %v", err)
		}
	})

	t.Run("ErrLoopRunning on consecutive calls", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)

		config, err := modem.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m, err := modem.New(ctx, config)
		if err != nil {
			t.Fatalf("failed to create modem: %v", err)
		}

		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}).AnyTimes()
		mockTransport.EXPECT().Close().Return(nil)
		defer m.Close()

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Loop(ctx)
		}()

		// Give first Loop time to start and set loopRunning flag
		time.Sleep(10 * time.Millisecond)

		if err := m.Loop(ctx); !errors.Is(err, modem.ErrLoopRunning) {
			t.Errorf("expected ErrLoopRunning, got: %v", err)
		}

		cancel()
		<-loopDone
	})
}

func TestModemClose(t *testing.T) {
	t.Run("Closes underlying transport successfully", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Close().Return(nil)

		config, err := modem.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Errorf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Returns transport error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		closeError := errors.New("transport close failed")
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Close().Return(closeError)

		config, err := modem.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Errorf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); !errors.Is(err, closeError) {
			t.Errorf("expected transport error, got: %v", err)
		}
	})

	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Close().Return(nil)

		config, err := modem.NewConfigBuilder().WithDialer(mockDialer).Build()
		if err != nil {
			t.Errorf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(context.Background(), config)
		if err != nil {
			t.Errorf("unexpected error from New(): %v", err)
		}

		if err := m.Close(); err != nil {
			t.Errorf("first close should succeed, got error: %v", err)
		}
		if err := m.Close(); !errors.Is(err, modem.ErrAlreadyClosed) {
			t.Errorf("expected ErrAlreadyClosed on second close, got: %v", err)
		}
	})
}
