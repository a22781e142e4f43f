package coordinator

import "fmt"

var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// FormatSize renders a byte count with one decimal in binary units,
// e.g. 1024 -> "1.0 KB". Values under 1 KB are printed in bytes.
func FormatSize(n int64) string {
	if n < 1024 {
		if n < 0 {
			n = 0
		}
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n) / 1024
	unit := 0
	for v >= 1024 && unit < len(sizeUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", v, sizeUnits[unit])
}
