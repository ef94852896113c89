package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// reportTable is the left-aligned rounded table that check and config
// validate print. Rows shorter than the header are padded.
type reportTable struct {
	tw      table.Writer
	columns int
}

func newReportTable(headers ...string) *reportTable {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	configs := make([]table.ColumnConfig, len(headers))
	for i, h := range headers {
		header[i] = h
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)
	return &reportTable{tw: tw, columns: len(headers)}
}

func (r *reportTable) add(cells ...string) {
	row := make(table.Row, r.columns)
	for i := range row {
		row[i] = ""
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	r.tw.AppendRow(row)
}

func (r *reportTable) String() string {
	if r.columns == 0 {
		return ""
	}
	return r.tw.Render()
}
