package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxFilenameLength = 200
	defaultFilename   = "download.mp4"
	defaultExtension  = ".mp4"
)

var (
	illegalFilenameChars = regexp.MustCompile(`[\\/*?:"<>|\x00-\x1f]`)
	illegalTitleChars    = regexp.MustCompile(`[\\/*?:"<>|'` + "`" + `\x00-\x1f]`)

	seasonEpisodeRegex = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*E(\d{1,3})\b`)
	longFormRegex      = regexp.MustCompile(`(?i)\bSeason\s*(\d{1,2})\D+?Episode\s*(\d{1,3})\b`)
	episodeOnlyRegex   = regexp.MustCompile(`(?i)\b(?:E|Ep|Episode)\s*(\d{1,3})\b`)
	seasonOnlyRegex    = regexp.MustCompile(`(?i)\bSeason\s*(\d{1,2})\b`)

	videoExtensions = map[string]bool{
		".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true, ".m4v": true,
	}
)

// foldASCII strips diacritics so "Pokémon" becomes "Pokemon"
func foldASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// SanitizeFilename removes characters that are illegal on common filesystems,
// replaces spaces with underscores and caps the length while keeping the extension
func SanitizeFilename(filename string) string {
	sanitized := illegalFilenameChars.ReplaceAllString(foldASCII(filename), "")
	sanitized = strings.TrimSpace(sanitized)
	sanitized = strings.ReplaceAll(sanitized, " ", "_")

	if strings.Trim(sanitized, "._") == "" {
		return defaultFilename
	}

	if len([]rune(sanitized)) > maxFilenameLength {
		ext := filepath.Ext(sanitized)
		if len([]rune(ext)) >= maxFilenameLength {
			ext = ""
		}
		stem := []rune(strings.TrimSuffix(sanitized, ext))
		sanitized = string(stem[:maxFilenameLength-len([]rune(ext))]) + ext
	}
	return sanitized
}

// EpisodeFilename builds "Show.Title.S05E03.720p.mp4" from the show title, the episode
// title, the quality hint the user picked and the filename the upstream suggested
func EpisodeFilename(showTitle, episodeTitle, qualityHint, originalFilename string) string {
	season, episode := parseSeasonEpisode(episodeTitle, qualityHint)

	ext := strings.ToLower(filepath.Ext(originalFilename))
	if !videoExtensions[ext] {
		ext = defaultExtension
	}

	name := fmt.Sprintf("%s.S%02dE%02d.%s%s",
		dottedTitle(showTitle), season, episode, ExtractResolution(qualityHint), ext)
	return SanitizeFilename(name)
}

func dottedTitle(title string) string {
	cleaned := illegalTitleChars.ReplaceAllString(foldASCII(title), "")
	dotted := strings.Join(strings.Fields(cleaned), ".")
	dotted = strings.Trim(dotted, ".")
	if dotted == "" {
		return "Unknown"
	}
	return dotted
}

// parseSeasonEpisode falls back to the quality hint for the season and to 1 for anything missing
func parseSeasonEpisode(episodeTitle, qualityHint string) (int, int) {
	if m := seasonEpisodeRegex.FindStringSubmatch(episodeTitle); m != nil {
		return atoiOr(m[1], 1), atoiOr(m[2], 1)
	}
	if m := longFormRegex.FindStringSubmatch(episodeTitle); m != nil {
		return atoiOr(m[1], 1), atoiOr(m[2], 1)
	}

	season := 1
	if m := seasonOnlyRegex.FindStringSubmatch(episodeTitle); m != nil {
		season = atoiOr(m[1], 1)
	} else if m := seasonOnlyRegex.FindStringSubmatch(qualityHint); m != nil {
		season = atoiOr(m[1], 1)
	}

	episode := 1
	if m := episodeOnlyRegex.FindStringSubmatch(episodeTitle); m != nil {
		episode = atoiOr(m[1], 1)
	}
	return season, episode
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// UniqueFilename returns filename, or filename with a _N suffix before the extension,
// such that no file with that name exists in any of dirs
func UniqueFilename(filename string, dirs ...string) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	candidate := filename
	for i := 1; existsInAny(candidate, dirs); i++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	return candidate
}

func existsInAny(filename string, dirs []string) bool {
	for _, dir := range dirs {
		if _, err := os.Stat(filepath.Join(dir, filename)); err == nil {
			return true
		}
	}
	return false
}
