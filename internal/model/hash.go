package model

// AudioHashLength is the length of a hex-encoded SHA-256 digest.
const AudioHashLength = 64

// ValidAudioHash reports whether h looks like a lowercase hex SHA-256 digest.
func ValidAudioHash(h string) bool {
	if len(h) != AudioHashLength {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ShortHash returns a prefix of h suitable for log lines and tables.
func ShortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12]
}
