package resolver

import (
	"regexp"
	"strings"

	"github.com/tbourn/go-track-bot/internal/domain"
)

var linkPattern = regexp.MustCompile(`(?i)(?:https?://)?music\.yandex\.[a-z]{2,3}/\S+`)

// Classify wraps text as a TrackReference. Text containing a recognized
// streaming-service URL becomes a Link whose Raw is the URL alone (with a
// scheme); everything else is FreeText.
func Classify(text string) domain.TrackReference {
	text = strings.TrimSpace(text)
	if m := linkPattern.FindString(text); m != "" {
		if !strings.HasPrefix(strings.ToLower(m), "http") {
			m = "https://" + m
		}
		return domain.TrackReference{Raw: m, Kind: domain.Link}
	}
	return domain.TrackReference{Raw: text, Kind: domain.FreeText}
}
