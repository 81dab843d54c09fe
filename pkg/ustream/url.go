package ustream

import (
	"fmt"
	"regexp"
)

const (
	ApplicationChannel  = "channel"
	ApplicationRecorded = "recorded"
)

var urlRegex = regexp.MustCompile(`^https?://(?:www\.)?(?:ustream\.tv|video\.ibm\.com)/(?:(?P<recorded>recorded/)|(?:embed/)?(?:channel/)?)(?P<id>\d+)(?:[/?#].*)?$`)

// ParseURL extracts the media id and application from a channel or video URL.
func ParseURL(raw string) (mediaID string, application string, err error) {
	match := urlRegex.FindStringSubmatch(raw)
	if match == nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}

	application = ApplicationChannel
	if match[urlRegex.SubexpIndex("recorded")] != "" {
		application = ApplicationRecorded
	}

	return match[urlRegex.SubexpIndex("id")], application, nil
}
