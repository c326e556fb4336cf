package media

import (
	"regexp"
	"strings"
)

var (
	timestampRe  = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}[.,]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[.,]\d{3}\]`)
	annotationRe = regexp.MustCompile(`\[[^\]]*\]`)
)

// CleanTranscript strips whisper timestamps and bracketed annotations
// such as [MUSIC] or [BLANK_AUDIO], trims every line and drops empty ones.
func CleanTranscript(raw string) string {
	text := timestampRe.ReplaceAllString(raw, "")
	text = annotationRe.ReplaceAllString(text, "")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}
