// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for the command line: a progress bar for
// the chunks of an interpretation, a report table of the explanations and a parser of
// "param=value" settings.
package commandline

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/smoothgrad/pkg/interpret"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#C04040")).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// ReportRow is the outcome of the interpretation of one input.
type ReportRow struct {
	Input       string
	Explanation *interpret.Explanation
	SavePath    string
	Err         error
}

// Report prints a table with one row per interpreted input: its label, whether the label was
// predicted, the range of values of the explanation, the time it took and where it was saved.
func Report(w io.Writer, rows []ReportRow) error {
	errorRows := make(map[int]bool)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers("Input", "Label", "Predicted", "Map range", "Map size", "Time", "Saved to").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case errorRows[row]:
				return errorStyle
			case col >= 1 && col <= 5:
				return rightAlignedStyle
			}
			return normalStyle
		})
	for ii, row := range rows {
		if row.Err != nil || row.Explanation == nil {
			errorRows[ii] = true
			table.Row(row.Input, "-", "-", "-", "-", "-", fmt.Sprintf("failed: %v", row.Err))
			continue
		}
		e := row.Explanation
		low, high := e.Map.MinMax()
		saved := row.SavePath
		if saved == "" {
			saved = "-"
		}
		table.Row(
			row.Input,
			strconv.Itoa(e.Label),
			strconv.FormatBool(e.Predicted),
			fmt.Sprintf("[%.3g, %.3g]", low, high),
			humanize.Bytes(uint64(e.Map.Memory())),
			FormatDuration(e.Elapsed),
			saved,
		)
	}
	_, err := fmt.Fprintln(w, table.String())
	return err
}
