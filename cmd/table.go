package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/combat-training-ingest/internal/app"
)

var counterHeaders = table.Row{"Stage", "Processed", "Created", "Updated", "Skipped", "Failed", "Malformed", "Details"}

// renderCounters prints one row per stage. Stage-specific counters and errors go in Details.
func renderCounters(results []app.StageResult) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(counterHeaders)

	for _, res := range results {
		c := res.Counters
		details := make([]string, 0, len(c.Extra)+1)
		for _, key := range c.ExtraKeys() {
			details = append(details, fmt.Sprintf("%s=%d", key, c.Extra[key]))
		}
		if res.Err != nil {
			details = append(details, "error: "+res.Err.Error())
		}
		tw.AppendRow(table.Row{
			res.Stage,
			strconv.Itoa(c.Processed),
			strconv.Itoa(c.Created),
			strconv.Itoa(c.Updated),
			strconv.Itoa(c.Skipped),
			strconv.Itoa(c.Failed),
			strconv.Itoa(c.Malformed),
			strings.Join(details, ", "),
		})
	}

	configs := make([]table.ColumnConfig, 0, len(counterHeaders))
	for i := range counterHeaders {
		align := text.AlignRight
		if i == 0 || i == len(counterHeaders)-1 {
			align = text.AlignLeft
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
