package utils

import (
	"regexp"
	"strings"
)

// DefaultResolution is used when a quality hint names no known resolution
const DefaultResolution = "720p"

var resolutionRegex = regexp.MustCompile(`(?i)\b(2160p|1440p|1080p|720p|480p|360p|4k)\b`)

// ExtractResolution parses a quality hint such as "Season 5 English 720p Esubs [180MB]"
// and returns the resolution tag used in filenames
func ExtractResolution(qualityHint string) string {
	match := resolutionRegex.FindStringSubmatch(qualityHint)
	if len(match) < 2 {
		return DefaultResolution
	}
	if strings.EqualFold(match[1], "4k") {
		return "4K"
	}
	return strings.ToLower(match[1])
}
