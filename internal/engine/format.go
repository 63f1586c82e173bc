package engine

import "strconv"

// formatFloat renders a score the way the command surface returns it:
// trimmed of trailing zeros, matching how a human typed it into ZADD.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
