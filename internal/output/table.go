package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ratefence/ratefence/internal/core/engine"
)

// TableFormatter renders snapshots as an ASCII table.
type TableFormatter struct{}

// FormatSnapshot renders a snapshot as a table.
func (f *TableFormatter) FormatSnapshot(snapshot *engine.Snapshot) (string, error) {
	if snapshot == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Counter", "This Process", "All Processes"})

	t.AppendRow(table.Row{"granted", snapshot.Process.Granted, snapshot.Shared.Granted})
	t.AppendRow(table.Row{"lock contentions", snapshot.Process.LockContentions, "-"})
	t.AppendRow(table.Row{"capacity waits", snapshot.Process.CapacityWaits, snapshot.Shared.CapacityWaits})
	t.AppendRow(table.Row{"timeouts", snapshot.Process.Timeouts, snapshot.Shared.Timeouts})

	window := time.Duration(snapshot.WindowMS) * time.Millisecond
	t.AppendFooter(table.Row{
		"window usage",
		"",
		fmt.Sprintf("%d/%d in %s", snapshot.Usage, snapshot.Limit, window),
	})

	return t.Render(), nil
}
