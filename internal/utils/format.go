package utils

import "fmt"

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count for display: "0 B", "1.5 KB", "1.0 GB"
func FormatSize(bytes float64) string {
	if bytes <= 0 {
		return "0 B"
	}

	i := 0
	for bytes >= 1024 && i < len(sizeUnits)-1 {
		bytes /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f B", bytes)
	}
	return fmt.Sprintf("%.1f %s", bytes, sizeUnits[i])
}

// FormatSpeed renders a bytes/sec rate for display
func FormatSpeed(bytesPerSecond float64) string {
	return FormatSize(bytesPerSecond) + "/s"
}
