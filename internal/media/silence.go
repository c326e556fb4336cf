package media

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

var silenceEventRe = regexp.MustCompile(`silence_(start|end):\s*(-?[0-9]+(?:\.[0-9]+)?)`)

// ParseSilence sums the silence intervals reported by ffmpeg's
// silencedetect filter. A silence still open at end of input runs to total.
// The result is clamped to [0, total].
func ParseSilence(stderr string, total time.Duration) time.Duration {
	var (
		silent float64
		open   bool
		begin  float64
	)
	for _, m := range silenceEventRe.FindAllStringSubmatch(stderr, -1) {
		at, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch {
		case m[1] == "start":
			open = true
			begin = max(at, 0)
		case open:
			if at > begin {
				silent += at - begin
			}
			open = false
		}
	}
	if open && total.Seconds() > begin {
		silent += total.Seconds() - begin
	}

	d := time.Duration(math.Round(silent * float64(time.Second)))
	if d < 0 {
		return 0
	}
	if d > total {
		return total
	}
	return d
}

// SpeechPercent returns the non-silent share of total as a percentage.
func SpeechPercent(silence, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	speech := total - silence
	if speech < 0 {
		speech = 0
	}
	return float64(speech) / float64(total) * 100
}
