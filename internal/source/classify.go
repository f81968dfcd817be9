package source

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Schemes the encoder can ingest directly without a downloader stage.
var directSchemes = map[string]bool{
	"rtmp":  true,
	"rtmps": true,
	"rtsp":  true,
	"rtsps": true,
	"srt":   true,
	"udp":   true,
	"rtp":   true,
}

// Manifest extensions served over HTTP that the encoder reads itself.
var directExtensions = map[string]bool{
	".m3u8": true,
	".mpd":  true,
	".ts":   true,
	".flv":  true,
}

// Classify inspects a source URL and decides how it should be resolved.
// It never touches the network; ambiguous HTTP pages classify as a
// single video and the downloader settles it during resolution.
func Classify(raw string) (Kind, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewResolveError(ErrCodeUnsupportedSource, "source URL is empty", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", NewResolveError(ErrCodeUnsupportedSource, fmt.Sprintf("not a URL: %q", raw), err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", NewResolveError(ErrCodeUnsupportedSource, fmt.Sprintf("not an absolute URL: %q", raw), nil)
	}

	scheme := strings.ToLower(u.Scheme)
	if directSchemes[scheme] {
		return KindDirect, nil
	}
	if scheme != "http" && scheme != "https" {
		return "", NewResolveError(ErrCodeUnsupportedSource, fmt.Sprintf("unsupported scheme %q", scheme), nil)
	}

	if directExtensions[strings.ToLower(path.Ext(u.Path))] {
		return KindDirect, nil
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		return classifyYouTube(u), nil
	case "youtu.be":
		if u.Query().Get("list") != "" {
			return KindPlaylist, nil
		}
		return KindVideo, nil
	case "twitch.tv", "m.twitch.tv":
		return classifyTwitch(u), nil
	}

	// Unknown HTTP page. Let the downloader probe it as a single video.
	return KindVideo, nil
}

func classifyYouTube(u *url.URL) Kind {
	p := strings.Trim(u.Path, "/")
	segments := strings.Split(p, "/")

	switch {
	case p == "playlist" && u.Query().Get("list") != "":
		return KindPlaylist
	case p == "watch":
		if u.Query().Get("list") != "" {
			return KindPlaylist
		}
		return KindVideo
	case strings.HasPrefix(p, "shorts/"):
		return KindVideo
	case strings.HasPrefix(p, "live/"):
		// youtube.com/live/<id> is a live watch page.
		return KindChannel
	}

	// Channel pages: /@handle, /channel/<id>, /c/<name>, /user/<name>,
	// with or without a trailing /live or /streams segment.
	if len(segments) > 0 {
		first := segments[0]
		if strings.HasPrefix(first, "@") ||
			first == "channel" || first == "c" || first == "user" {
			return KindChannel
		}
	}

	return KindVideo
}

func classifyTwitch(u *url.URL) Kind {
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(segments) >= 2 && segments[0] == "videos":
		return KindVideo
	case len(segments) >= 2 && segments[0] == "collections":
		return KindPlaylist
	case len(segments) == 1 && segments[0] != "":
		// twitch.tv/<login> is the channel's live page.
		return KindChannel
	}
	return KindVideo
}

// PlatformFor names the platform a URL belongs to for overlay text.
func PlatformFor(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "youtu.be" || strings.HasSuffix(host, "youtube.com"):
		return "YouTube"
	case strings.HasSuffix(host, "twitch.tv"):
		return "Twitch"
	}
	if i := strings.LastIndex(host, "."); i > 0 {
		host = host[:i]
	}
	if host == "" {
		return ""
	}
	return strings.ToUpper(host[:1]) + host[1:]
}

// ChannelFor extracts the channel or handle segment from a live page URL.
func ChannelFor(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case strings.HasSuffix(host, "youtube.com"):
		first := segments[0]
		if strings.HasPrefix(first, "@") {
			return strings.TrimPrefix(first, "@")
		}
		if (first == "channel" || first == "c" || first == "user") && len(segments) > 1 {
			return segments[1]
		}
	case strings.HasSuffix(host, "twitch.tv"):
		if segments[0] != "videos" && segments[0] != "collections" {
			return segments[0]
		}
	}
	return ""
}
