package sensors_test

import (
	"context"
	"errors"
	"testing"

	"github.com/zencross/tracker/at"
	"github.com/zencross/tracker/sensors"
)

// fakeCommander answers AT commands from a canned response table.
type fakeCommander struct {
	responses map[string]at.Result
	err       error
}

func (f *fakeCommander) Send(_ context.Context, cmd string) (at.Result, error) {
	if f.err != nil {
		return at.Result{}, f.err
	}
	return f.responses[cmd], nil
}

func TestReadRSSI(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		term *fakeCommander
		want uint8
	}{
		{
			name: "reads the first field of +CSQ",
			term: &fakeCommander{responses: map[string]at.Result{
				at.CmdSignalQuality: at.NewResult(at.CmdSignalQuality, true, []string{"18,99"}),
			}},
			want: 18,
		},
		{
			name: "failed command reports unknown",
			term: &fakeCommander{responses: map[string]at.Result{
				at.CmdSignalQuality: at.NewResult(at.CmdSignalQuality, false, nil),
			}},
			want: sensors.RSSIUnknown,
		},
		{
			name: "send error reports unknown",
			term: &fakeCommander{err: errors.New("modem gone")},
			want: sensors.RSSIUnknown,
		},
		{
			name: "non-numeric field reports unknown",
			term: &fakeCommander{responses: map[string]at.Result{
				at.CmdSignalQuality: at.NewResult(at.CmdSignalQuality, true, []string{"??,99"}),
			}},
			want: sensors.RSSIUnknown,
		},
		{
			name: "out of range value reports unknown",
			term: &fakeCommander{responses: map[string]at.Result{
				at.CmdSignalQuality: at.NewResult(at.CmdSignalQuality, true, []string{"300,99"}),
			}},
			want: sensors.RSSIUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sensors.ReadRSSI(ctx, tt.term); got != tt.want {
				t.Errorf("sensors.ReadRSSI() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadServingCell(t *testing.T) {
	ctx := context.Background()

	t.Run("parses the measurement fields", func(t *testing.T) {
		line := "ECID:184430603,RSRP:-98,RSRQ:-12,302,720,1F03,9,7,5,-85"
		term := &fakeCommander{responses: map[string]at.Result{
			at.CmdServingCell: at.NewResult(at.CmdServingCell, true, []string{line}),
		}}

		got, err := sensors.ReadServingCell(ctx, term)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := sensors.CellInfo{
			MCC:    "302",
			MNC:    "720",
			LAC:    "1F03",
			CellID: "184430603",
			RSSI:   -85,
		}
		if got != want {
			t.Errorf("sensors.ReadServingCell() = %+v, want %+v", got, want)
		}
	})

	t.Run("fails when the command fails", func(t *testing.T) {
		term := &fakeCommander{responses: map[string]at.Result{
			at.CmdServingCell: at.NewResult(at.CmdServingCell, false, []string{"10"}),
		}}

		if _, err := sensors.ReadServingCell(ctx, term); err == nil {
			t.Error("expected error for failed command")
		}
	})

	t.Run("fails when fields are missing", func(t *testing.T) {
		term := &fakeCommander{responses: map[string]at.Result{
			at.CmdServingCell: at.NewResult(at.CmdServingCell, true, []string{"ECID:1,2,3"}),
		}}

		if _, err := sensors.ReadServingCell(ctx, term); err == nil {
			t.Error("expected error for short response")
		}
	})

	t.Run("fails when the rssi is not a number", func(t *testing.T) {
		line := "ECID:184430603,RSRP:-98,RSRQ:-12,302,720,1F03,9,7,5,??"
		term := &fakeCommander{responses: map[string]at.Result{
			at.CmdServingCell: at.NewResult(at.CmdServingCell, true, []string{line}),
		}}

		if _, err := sensors.ReadServingCell(ctx, term); err == nil {
			t.Error("expected error for bad rssi")
		}
	})

	t.Run("fails when the modem is unreachable", func(t *testing.T) {
		term := &fakeCommander{err: errors.New("modem gone")}

		if _, err := sensors.ReadServingCell(ctx, term); err == nil {
			t.Error("expected error when send fails")
		}
	})
}
