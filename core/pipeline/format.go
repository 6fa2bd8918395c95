package pipeline

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"VKSaver/model"
)

const (
	maxTrackName   = 200
	maxArchiveBase = 150

	// File names are limited to 255 bytes; these leave room for the suffixes.
	maxTrackNameBytes   = 240
	maxArchiveBaseBytes = 200
)

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// FormatSize renders a byte count as "12.3 MB".
func FormatSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f TB", size)
}

// SafeTrackName returns the on-disk file name of the index-th (0-based) track.
func SafeTrackName(index int, t model.Track) string {
	name := fmt.Sprintf("%03d. %s - %s", index+1, orUnknown(t.Artist), orUnknown(t.Title))
	return truncateBytes(truncate(sanitize(name), maxTrackName), maxTrackNameBytes) + ".mp3"
}

// ArchiveName builds "<title>_<task8>[_partN].zip".
func ArchiveName(title, taskID string, part int, numbered bool) string {
	name := truncateBytes(truncate(sanitize(title), maxArchiveBase), maxArchiveBaseBytes) + "_" + truncate(taskID, 8)
	if numbered {
		name += fmt.Sprintf("_part%d", part)
	}
	return name + ".zip"
}

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncateBytes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
