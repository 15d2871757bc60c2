package sensors

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/zencross/tracker/at"
)

// RSSIUnknown is reported when the signal quality cannot be read.
const RSSIUnknown uint8 = 0xFF

// Commander issues a single AT command and reports its parsed result.
// *modem.Modem satisfies it.
type Commander interface {
	Send(ctx context.Context, cmd string) (at.Result, error)
}

// ReadRSSI queries the modem signal quality and returns the raw RSSI
// value from AT+CSQ, or RSSIUnknown when the reading fails.
func ReadRSSI(ctx context.Context, term Commander) uint8 {
	res, err := term.Send(ctx, at.CmdSignalQuality)
	if err != nil || !res.Success || len(res.Fields) < 1 {
		return RSSIUnknown
	}
	v, err := strconv.Atoi(res.Fields[0])
	if err != nil || v < 0 || v > 0xFF {
		return RSSIUnknown
	}
	return uint8(v)
}

// CellInfo identifies the serving cell as reported by the modem's
// measurement command.
type CellInfo struct {
	MCC    string
	MNC    string
	LAC    string
	CellID string
	RSSI   int
}

// ReadServingCell runs the modem's serving cell measurement and parses
// the cell identifiers out of the response fields.
func ReadServingCell(ctx context.Context, term Commander) (CellInfo, error) {
	res, err := term.Send(ctx, at.CmdServingCell)
	if err != nil {
		return CellInfo{}, fmt.Errorf("serving cell measurement: %w", err)
	}
	if !res.Success {
		return CellInfo{}, fmt.Errorf("serving cell measurement failed: %s", res.Text())
	}
	if len(res.Fields) < 10 {
		return CellInfo{}, fmt.Errorf("unexpected serving cell response: %s", res.Text())
	}
	rssi, err := strconv.Atoi(res.Fields[9])
	if err != nil {
		return CellInfo{}, fmt.Errorf("bad serving cell rssi %q: %w", res.Fields[9], err)
	}
	return CellInfo{
		MCC:    res.Fields[3],
		MNC:    res.Fields[4],
		LAC:    res.Fields[5],
		CellID: strings.TrimPrefix(res.Fields[0], "ECID:"),
		RSSI:   rssi,
	}, nil
}
