package modem

import (
	"context"
	"encoding/hex"
	"fmt"
)

// The modem multiplexes several sockets; this client only ever uses
// one.
const (
	socketID  = 1
	localPort = 5000
)

// ConnectUDP allocates and activates the UDP socket to the collector.
// A stale socket left over from a previous session is deleted first;
// that delete failing is normal on a fresh boot.
func (m *Modem) ConnectUDP(ctx context.Context, host string, port int) error {
	if res, err := m.Send(ctx, fmt.Sprintf(`AT%%SOCKETCMD="DELETE",%d`, socketID)); err != nil {
		return fmt.Errorf("delete socket: %w", err)
	} else if !res.Success {
		m.log.Debug("no stale socket to delete")
	}

	res, err := m.Send(ctx, fmt.Sprintf(`AT%%SOCKETCMD="ALLOCATE",%d,"UDP","OPEN","%s",%d,%d`, socketID, host, port, localPort))
	if err != nil {
		return fmt.Errorf("allocate socket: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("allocate socket to %s:%d: %q", host, port, res.Text())
	}

	res, err = m.Send(ctx, fmt.Sprintf(`AT%%SOCKETCMD="ACTIVATE",%d`, socketID))
	if err != nil {
		return fmt.Errorf("activate socket: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("activate socket: %q", res.Text())
	}

	m.log.Info("socket connected", "host", host, "port", port)
	return nil
}

// SocketSend transmits one datagram, hex-encoded into the send command.
func (m *Modem) SocketSend(ctx context.Context, payload []byte) error {
	cmd := fmt.Sprintf(`AT%%SOCKETDATA="SEND",%d,%d,"%x"`, socketID, len(payload), payload)
	res, err := m.Send(ctx, cmd)
	if err != nil {
		return fmt.Errorf("socket send: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("socket send of %d bytes: %q", len(payload), res.Text())
	}
	return nil
}

// SocketReceive reads one pending datagram. The response's fourth field
// carries the hex-encoded payload.
func (m *Modem) SocketReceive(ctx context.Context, maxLen int) ([]byte, error) {
	res, err := m.Send(ctx, fmt.Sprintf(`AT%%SOCKETDATA="RECEIVE",%d,%d`, socketID, maxLen))
	if err != nil {
		return nil, fmt.Errorf("socket receive: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("socket receive: %q", res.Text())
	}
	if len(res.Fields) < 4 {
		return nil, fmt.Errorf("socket receive: unexpected response %q", res.Text())
	}

	payload, err := hex.DecodeString(res.Fields[3])
	if err != nil {
		return nil, fmt.Errorf("socket receive: decode payload: %w", err)
	}
	return payload, nil
}
