package telemetry

import (
	"context"
	"encoding/hex"

	"github.com/zencross/tracker/at"
	"github.com/zencross/tracker/wire"
)

// runDispatcher consumes modem events and routes inbound collector
// packets. It is the only reader of the socket and the only writer of
// the settings snapshot, so application routing never competes with
// itself.
func (c *Client) runDispatcher(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := c.term.NextEvent(c.eventPoll)
		if !ok {
			continue
		}
		if ev.Tag != at.UrcSocketEvent {
			c.log.Debug("ignoring event", "tag", ev.Tag, "payload", ev.Payload)
			continue
		}
		data, err := c.term.SocketReceive(ctx, receiveMax)
		if err != nil {
			c.log.Warn("socket receive failed", "error", err)
			continue
		}
		c.handlePacket(ctx, data)
	}
}

// handlePacket decodes one inbound packet and routes it by command. A
// malformed packet is logged with its raw hex and dropped; the session
// continues.
func (c *Client) handlePacket(ctx context.Context, data []byte) {
	hdr, body, err := wire.DecodeHeader(data)
	if err != nil {
		c.log.Warn("undecodable packet", "error", err, "raw", hex.EncodeToString(data))
		return
	}
	switch hdr.Command {
	case wire.CmdAck:
		c.log.Debug("acknowledgment received", "txn", hdr.TxnID)
		c.corr.Resolve(hdr.TxnID)
	case wire.CmdConfig:
		c.log.Info("configuration requested", "txn", hdr.TxnID)
		c.sendConfigReport(ctx, hdr.TxnID)
	case wire.CmdConfigWrite:
		c.applyConfigWrite(ctx, hdr.TxnID, body)
	default:
		c.log.Warn("unsupported command",
			"command", hdr.Command.String(), "txn", hdr.TxnID, "raw", hex.EncodeToString(data))
	}
}

// applyConfigWrite swaps the settings snapshot from an inbound write
// and confirms with a configuration report. A write that does not
// decode or validate keeps the previous snapshot; the report is sent
// either way so the collector sees what the device actually runs.
func (c *Client) applyConfigWrite(ctx context.Context, txn uint16, body []byte) {
	pairs, err := wire.DecodeKeyValues(wire.NewReader(body))
	if err != nil {
		c.log.Warn("undecodable configuration write",
			"txn", txn, "error", err, "raw", hex.EncodeToString(body))
		c.sendConfigReport(ctx, txn)
		return
	}
	applied, unknown, err := c.settings.Apply(pairs)
	if err != nil {
		c.log.Warn("configuration write rejected", "txn", txn, "error", err)
		c.sendConfigReport(ctx, txn)
		return
	}
	for _, key := range unknown {
		c.log.Warn("ignoring unknown configuration key", "txn", txn, "key", key)
	}
	c.log.Info("configuration updated",
		"txn", txn,
		"server", applied.Server,
		"interval", applied.Reporting,
		"readings", applied.Reading)
	c.sendConfigReport(ctx, txn)
}

// sendConfigReport sends the current settings snapshot under the given
// transaction id. Reports answer collector requests, so no
// acknowledgment is awaited.
func (c *Client) sendConfigReport(ctx context.Context, txn uint16) {
	packet, err := wire.EncodePacket(c.header(wire.CmdConfig, txn), c.settings.Pairs())
	if err != nil {
		c.log.Error("configuration encode failed", "txn", txn, "error", err)
		return
	}
	if err := c.term.SocketSend(ctx, packet); err != nil {
		c.log.Warn("configuration send failed", "txn", txn, "error", err)
	}
}
