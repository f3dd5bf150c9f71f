package progress

import "fmt"

// FormatBytes renders n with a binary unit, e.g. "512MiB" or "1.50 GiB".
// Exact multiples of a unit are printed without decimals.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	suffixes := []string{"KiB", "MiB", "GiB", "TiB"}
	div, exp := int64(unit), 0
	for n/div >= unit && exp < len(suffixes)-1 {
		div *= unit
		exp++
	}
	if n%div == 0 {
		return fmt.Sprintf("%d%s", n/div, suffixes[exp])
	}
	return fmt.Sprintf("%.2f %s", float64(n)/float64(div), suffixes[exp])
}

// FormatRate renders a byte rate, e.g. "3.20 MiB/s".
func FormatRate(bps float64) string {
	if bps <= 0 {
		return "0B/s"
	}
	return FormatBytes(int64(bps)) + "/s"
}
