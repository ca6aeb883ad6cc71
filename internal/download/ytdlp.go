package download

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

// YTDLPSource downloads the first search hit through yt-dlp and transcodes
// it to mp3.
type YTDLPSource struct {
	Label        string // metric/log label, e.g. "youtube"
	SearchPrefix string // e.g. "ytsearch1:"
	QuerySuffix  string // appended to the query, e.g. " audio"

	Executable  string // optional yt-dlp path
	CookiesFile string // optional Netscape cookie jar
	UserAgent   string
	Referer     string
	Bitrate     int // kbps
}

// NewYouTubeSource is source A: the first YouTube hit for "{query} audio".
func NewYouTubeSource(executable, cookies, userAgent string, bitrate int) *YTDLPSource {
	return &YTDLPSource{
		Label:        "youtube",
		SearchPrefix: "ytsearch1:",
		QuerySuffix:  " audio",
		Executable:   executable,
		CookiesFile:  cookies,
		UserAgent:    userAgent,
		Referer:      "https://www.youtube.com/",
		Bitrate:      bitrate,
	}
}

// NewSoundCloudSource is source B: the first SoundCloud hit for the query.
func NewSoundCloudSource(executable, userAgent string, bitrate int) *YTDLPSource {
	return &YTDLPSource{
		Label:        "soundcloud",
		SearchPrefix: "scsearch1:",
		Executable:   executable,
		UserAgent:    userAgent,
		Referer:      "https://soundcloud.com/",
		Bitrate:      bitrate,
	}
}

func (s *YTDLPSource) Name() string { return s.Label }

// SearchTerm is the argument handed to yt-dlp.
func (s *YTDLPSource) SearchTerm(query string) string {
	return s.SearchPrefix + query + s.QuerySuffix
}

func (s *YTDLPSource) Fetch(ctx context.Context, query, outBase string) error {
	_, err := s.command(outBase).Run(ctx, s.SearchTerm(query))
	return err
}

func (s *YTDLPSource) command(outBase string) *ytdlp.Command {
	bitrate := s.Bitrate
	if bitrate <= 0 {
		bitrate = 192
	}
	cmd := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat("mp3").
		AudioQuality(strconv.Itoa(bitrate) + "K").
		NoPlaylist().
		NoWarnings().
		ForceOverwrites().
		Output(escapeTemplate(outBase) + ".%(ext)s")

	if s.Executable != "" {
		cmd.SetExecutable(s.Executable)
	}
	if s.UserAgent != "" {
		cmd.AddHeaders("User-Agent:" + s.UserAgent)
	}
	if s.Referer != "" {
		cmd.AddHeaders("Referer:" + s.Referer)
	}
	if s.CookiesFile != "" {
		if _, err := os.Stat(s.CookiesFile); err == nil {
			cmd.Cookies(s.CookiesFile)
		}
	}
	return cmd
}

// escapeTemplate protects literal '%' in a path from yt-dlp's output
// template expansion.
func escapeTemplate(p string) string {
	return strings.ReplaceAll(p, "%", "%%")
}

// EnsureTool makes sure a yt-dlp binary is available. With an explicit
// executable it only checks the path; otherwise it lets go-ytdlp download a
// pinned build into its cache.
func EnsureTool(ctx context.Context, executable string, autoInstall bool) error {
	if executable != "" {
		_, err := os.Stat(executable)
		return err
	}
	if !autoInstall {
		return nil
	}
	_, err := ytdlp.Install(ctx, nil)
	return err
}
