package archive

import (
	"fmt"
	"strings"

	"voice-recorder/internal/recordings"
)

// ObjectKey is the bucket key of an archived recording:
// recordings/YYYY/MM/DD/<call_uuid>.<format>, dated by the recording's UTC timestamp.
func ObjectKey(r recordings.Recording) string {
	format := strings.ToLower(strings.TrimSpace(r.Format))
	if format == "" {
		format = "mp3"
	}
	t := r.CreatedAt.UTC()
	return fmt.Sprintf("recordings/%04d/%02d/%02d/%s.%s", t.Year(), int(t.Month()), t.Day(), r.CallUUID, format)
}

func contentType(format string) string {
	switch strings.ToLower(format) {
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}
