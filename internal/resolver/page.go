package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// TitleSeparator splits "Title — Artist" page titles (em dash, spaced).
const TitleSeparator = " — "

var errNoTitle = errors.New("page has neither og:title nor <title>")

// siteSuffixes are stripped from a bare <title>.
var siteSuffixes = []string{
	" — слушать онлайн на Яндекс Музыке",
	" слушать онлайн на Яндекс Музыке",
	" | Яндекс Музыка",
	" — Яндекс Музыка",
	" - Yandex Music",
	" | Yandex Music",
	" — Yandex Music",
}

// PageStrategy scrapes the link's own page. It prefers og:title, falls back
// to <title> without the site suffix, and splits the raw title with
// SplitTitle.
type PageStrategy struct {
	Client    *http.Client
	UserAgent string
}

func (s *PageStrategy) Name() string { return "page" }

func (s *PageStrategy) Extract(ctx context.Context, link string) (Candidate, error) {
	req, err := newRequest(ctx, link, s.UserAgent, link)
	if err != nil {
		return Candidate{}, err
	}
	resp, err := client(s.Client).Do(req)
	if err != nil {
		return Candidate{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Candidate{}, fmt.Errorf("page status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return Candidate{}, err
	}

	raw := strings.TrimSpace(metaProperty(doc, "og:title"))
	if raw == "" {
		raw = stripSiteSuffix(strings.TrimSpace(doc.Find("title").First().Text()))
	}
	if raw == "" {
		return Candidate{}, errNoTitle
	}

	title, artist := SplitTitle(raw, metaProperty(doc, "og:description"))
	return Candidate{Title: title, Artist: artist}, nil
}

// SplitTitle derives (title, artist) from a raw page title. "Song — Artist"
// splits on the first separator and the artist ends at the next one.
// Otherwise the whole raw title is the title and the artist is the
// description up to its first period, or UnknownArtist.
func SplitTitle(raw, description string) (title, artist string) {
	if before, after, ok := strings.Cut(raw, TitleSeparator); ok {
		artist, _, _ = strings.Cut(after, TitleSeparator)
		return orDefault(before, UnknownTitle), orDefault(artist, UnknownArtist)
	}
	lead, _, _ := strings.Cut(description, ".")
	return strings.TrimSpace(raw), orDefault(lead, UnknownArtist)
}

func metaProperty(doc *goquery.Document, prop string) string {
	return doc.Find(`meta[property="` + prop + `"]`).First().AttrOr("content", "")
}

func stripSiteSuffix(t string) string {
	for _, sfx := range siteSuffixes {
		if strings.HasSuffix(t, sfx) {
			return strings.TrimSpace(strings.TrimSuffix(t, sfx))
		}
	}
	return t
}
