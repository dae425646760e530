// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the minimum time between redraws of the progress bar.
const maxUpdateFrequency = time.Millisecond * 200

// progressBar displays the output rows completed by a reduction on stderr.
type progressBar struct {
	bar     *progressbar.ProgressBar
	termenv *termenv.Output
}

func newProgressBar(numRows int) *progressBar {
	pBar := &progressBar{termenv: termenv.NewOutput(os.Stderr)}
	pBar.bar = progressbar.NewOptions(numRows,
		progressbar.OptionSetDescription("reducing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionThrottle(maxUpdateFrequency),
		progressbar.OptionSetTheme(ProgressbarStyle),
	)
	pBar.termenv.HideCursor()
	return pBar
}

// Update is called by the reduction with the number of rows done so far. Calls are serialized.
func (pBar *progressBar) Update(done, _ int) {
	_ = pBar.bar.Set(done)
}

// Done finishes the progress bar and restores the cursor.
func (pBar *progressBar) Done() {
	_ = pBar.bar.Finish()
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(os.Stderr)
}

// setColorProfile configures the colors of the report: the terminal profile of stdout, or plain
// ASCII if useColor is false.
func setColorProfile(useColor bool) {
	if !useColor {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).ColorProfile())
}
