package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var trackIDPattern = regexp.MustCompile(`track/(\d+)`)

// errMalformed marks an endpoint payload without usable track data.
var errMalformed = errors.New("malformed payload")

// maxPayload caps how much of an upstream body is read.
const maxPayload = 2 << 20

// EndpointStrategy looks a track up by its numeric id on the service's
// internal JSON endpoint. It is skipped when the link carries no id.
type EndpointStrategy struct {
	Client    *http.Client
	Endpoint  string // e.g. https://music.yandex.ru/handlers/track.jsx
	UserAgent string
}

type endpointPayload struct {
	Track *struct {
		Title   string `json:"title"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
	} `json:"track"`
}

func (s *EndpointStrategy) Name() string { return "endpoint" }

func (s *EndpointStrategy) Extract(ctx context.Context, link string) (Candidate, error) {
	m := trackIDPattern.FindStringSubmatch(link)
	if m == nil {
		return Candidate{}, ErrSkipped
	}

	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return Candidate{}, err
	}
	q := u.Query()
	q.Set("track", m[1])
	u.RawQuery = q.Encode()

	req, err := newRequest(ctx, u.String(), s.UserAgent, link)
	if err != nil {
		return Candidate{}, err
	}
	resp, err := client(s.Client).Do(req)
	if err != nil {
		return Candidate{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Candidate{}, fmt.Errorf("endpoint status %d", resp.StatusCode)
	}

	var p endpointPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPayload)).Decode(&p); err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if p.Track == nil {
		return Candidate{}, errMalformed
	}

	names := make([]string, 0, len(p.Track.Artists))
	for _, a := range p.Track.Artists {
		if n := strings.TrimSpace(a.Name); n != "" {
			names = append(names, n)
		}
	}
	title := strings.TrimSpace(p.Track.Title)
	if title == "" && len(names) == 0 {
		return Candidate{}, errMalformed
	}
	return Candidate{
		Title:  orDefault(title, UnknownTitle),
		Artist: orDefault(strings.Join(names, ", "), UnknownArtist),
	}, nil
}

// newRequest builds a GET carrying the browser-like identity the service
// expects from its own web client.
func newRequest(ctx context.Context, target, userAgent, link string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept-Language", "ru,en;q=0.9")
	if ref, err := url.Parse(link); err == nil && ref.Host != "" {
		req.Header.Set("Referer", ref.Scheme+"://"+ref.Host+"/")
	}
	req.Header.Set("X-Retpath-Y", url.QueryEscape(link))
	return req, nil
}

func client(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
