// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"time"
)

// FormatDuration pretty prints duration with 2 decimal places in its most natural unit.
// Durations of a minute or more are rounded to the second.
func FormatDuration(d time.Duration) string {
	abs := d.Abs()
	switch {
	case abs < time.Microsecond:
		return d.String()
	case abs < time.Millisecond:
		return fmt.Sprintf("%.2fµs", float64(d)/float64(time.Microsecond))
	case abs < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case abs < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
