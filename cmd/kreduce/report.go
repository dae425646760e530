// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/kreduce/backends"
	"github.com/gomlx/kreduce/bridge"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/reduction"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// maxFormulaLen bounds the printed formula: gradients can be much longer than the number of
// nodes they have.
const maxFormulaLen = 200

// pairsPerSecond formats the throughput of the reduction.
func pairsPerSecond(pairs int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "-"
	}
	value, prefix := humanize.ComputeSI(float64(pairs) / elapsed.Seconds())
	return fmt.Sprintf("%.1f %spairs/s", value, prefix)
}

func formatRow[T formula.Float](row []T) string {
	parts := make([]string, len(row))
	for ii, v := range row {
		parts[ii] = fmt.Sprintf("%.6g", v)
	}
	return strings.Join(parts, " ")
}

// printReport prints a summary of the reduction run, and its first output rows.
func printReport[T formula.Float](r *reduction.Reduction, tags backends.Tags, nx, ny int, out *bridge.Dense[T],
	elapsed time.Duration, numRows int) {
	fmt.Println(titleStyle.Render("Reduction"))
	table := newPlainTable(false)
	table.Row("name", r.Name())
	table.Row("formula", r.Formula().ShortString(maxFormulaLen))
	table.Row("operation", fmt.Sprintf("%s %s", r.Op(), r.Axis()))
	table.Row("precision", r.Precision().String())
	meta := bridge.Metadata(r)
	table.Row("metadata", fmt.Sprintf("nargs=%d, tagIJ=%d, dimout=%d", meta.NArgs, meta.TagIJ, meta.DimOut))
	table.Row("backend", tags.String())
	table.Row("nx", humanize.Comma(int64(nx)))
	table.Row("ny", humanize.Comma(int64(ny)))
	pairs := int64(nx) * int64(ny)
	table.Row("pairs", humanize.Comma(pairs))
	table.Row("elapsed", elapsed.Round(time.Microsecond).String())
	table.Row("throughput", pairsPerSecond(pairs, elapsed))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Output"))
	s := summarize(out.Data())
	table = newPlainTable(false)
	table.Row("shape", fmt.Sprintf("%v", out.Shape()))
	table.Row("min", fmt.Sprintf("%.6g", s.Min))
	table.Row("max", fmt.Sprintf("%.6g", s.Max))
	table.Row("mean", fmt.Sprintf("%.6g", s.Mean))
	table.Row("rms", fmt.Sprintf("%.6g", s.RMS))
	if s.NonFinite > 0 {
		table.Row("non-finite", humanize.Comma(int64(s.NonFinite)))
	}
	fmt.Println(table.Render())

	numRows = min(numRows, out.AxisSize(0))
	if numRows <= 0 {
		return
	}
	table = newPlainTable(true)
	table.Row("Row", "Values")
	for i := range numRows {
		table.Row(humanize.Comma(int64(i)), formatRow(out.Row(i)))
	}
	fmt.Println(table.Render())
}
