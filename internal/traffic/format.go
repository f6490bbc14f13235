package traffic

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count in IEC units, e.g. "812 B", "1.5 KiB",
// "4.5 GiB".
func FormatBytes(bytes uint64) string {
	return humanize.IBytes(bytes)
}

// FormatMbps renders a rate with two decimals.
func FormatMbps(rate float64) string {
	return fmt.Sprintf("%.2f", rate)
}
