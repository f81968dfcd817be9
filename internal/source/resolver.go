package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/TheDoctorTTV/247-steam/internal/tools"
)

const defaultResolveTimeout = 60 * time.Second

// Stderr fragments that mean a channel exists but is not broadcasting.
var offlinePatterns = []string{
	"not currently live",
	"channel is not live",
	"is offline",
	"this live event will begin",
	"premieres in",
	"no video formats found",
}

// ytMetadata is the subset of downloader JSON output the resolver reads.
// Playlist entries reuse the same shape.
type ytMetadata struct {
	Type       string        `json:"_type"`
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	WebpageURL string        `json:"webpage_url"`
	URL        string        `json:"url"`
	Duration   float64       `json:"duration"`
	UploadDate string        `json:"upload_date"`
	IsLive     bool          `json:"is_live"`
	Uploader   string        `json:"uploader"`
	Channel    string        `json:"channel"`
	Entries    []*ytMetadata `json:"entries"`
}

// Resolver turns a source URL into a list of playable items by invoking
// the downloader's metadata modes. It never downloads media.
type Resolver struct {
	downloader tools.Tool
	logger     *slog.Logger
	timeout    time.Duration
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolveTimeout bounds each downloader metadata invocation.
func WithResolveTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResolver creates a resolver backed by the given downloader tool.
func NewResolver(downloader tools.Tool, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		downloader: downloader,
		logger:     logger,
		timeout:    defaultResolveTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve classifies the URL and enumerates its items. Playlists keep
// their platform order; shuffling is the queue's concern.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Resolution, error) {
	kind, err := Classify(raw)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("resolving source", "url", raw, "kind", kind)

	switch kind {
	case KindDirect:
		return r.resolveDirect(raw), nil
	case KindPlaylist:
		return r.resolvePlaylist(ctx, raw)
	case KindChannel:
		return r.resolveChannel(ctx, raw)
	default:
		return r.resolveVideo(ctx, raw)
	}
}

func (r *Resolver) resolveDirect(raw string) *Resolution {
	item := Item{
		URL:      raw,
		Title:    raw,
		Live:     true,
		Direct:   true,
		Platform: PlatformFor(raw),
	}
	return &Resolution{Kind: KindDirect, Title: raw, Items: []Item{item}}
}

func (r *Resolver) resolvePlaylist(ctx context.Context, raw string) (*Resolution, error) {
	out, err := r.run(ctx, "--flat-playlist", "-J", "--no-warnings", raw)
	if err != nil {
		return nil, err
	}

	var meta ytMetadata
	if err := unmarshalMetadata(out, &meta); err != nil {
		return nil, err
	}
	if meta.Type != "playlist" {
		// A watch URL with a list parameter can resolve to the bare video.
		item := itemFromMetadata(&meta, raw)
		return &Resolution{Kind: KindVideo, Title: item.Title, Items: []Item{item}}, nil
	}

	items := make([]Item, 0, len(meta.Entries))
	skipped := 0
	for _, entry := range meta.Entries {
		if entry == nil || !playable(entry) {
			skipped++
			continue
		}
		items = append(items, itemFromMetadata(entry, ""))
	}
	if skipped > 0 {
		r.logger.Warn("skipped unavailable playlist entries", "playlist", meta.Title, "skipped", skipped)
	}
	if len(items) == 0 {
		return nil, NewResolveError(ErrCodeEmptySource,
			fmt.Sprintf("playlist %q has no playable entries", meta.Title), nil)
	}

	r.logger.Info("resolved playlist", "title", meta.Title, "items", len(items))
	return &Resolution{Kind: KindPlaylist, Title: meta.Title, Items: items}, nil
}

func (r *Resolver) resolveVideo(ctx context.Context, raw string) (*Resolution, error) {
	out, err := r.run(ctx, "-J", "--no-playlist", "--no-warnings", raw)
	if err != nil {
		return nil, err
	}

	var meta ytMetadata
	if err := unmarshalMetadata(out, &meta); err != nil {
		return nil, err
	}
	item := itemFromMetadata(&meta, raw)
	r.logger.Info("resolved video", "title", item.Title, "live", item.Live)
	return &Resolution{Kind: KindVideo, Title: item.Title, Items: []Item{item}}, nil
}

func (r *Resolver) resolveChannel(ctx context.Context, raw string) (*Resolution, error) {
	// Confirm the channel is broadcasting before the session starts.
	if _, err := r.ManifestURL(ctx, raw); err != nil {
		return nil, err
	}
	channel := ChannelFor(raw)
	title := channel
	if title == "" {
		title = raw
	}
	item := Item{
		URL:      raw,
		Title:    title,
		Live:     true,
		Platform: PlatformFor(raw),
		Channel:  channel,
	}
	r.logger.Info("resolved live channel", "channel", title)
	return &Resolution{Kind: KindChannel, Title: title, Items: []Item{item}}, nil
}

// ManifestURL asks the downloader for the current media manifest of a
// live page. Manifest URLs expire, so callers fetch a fresh one per
// streaming attempt.
func (r *Resolver) ManifestURL(ctx context.Context, pageURL string) (string, error) {
	out, err := r.run(ctx, "-g", "--no-warnings", pageURL)
	if err != nil {
		return "", err
	}
	manifest := firstLine(string(out))
	if manifest == "" {
		return "", NewResolveError(ErrCodeChannelOffline,
			fmt.Sprintf("no manifest returned for %q", pageURL), nil)
	}
	return manifest, nil
}

// Enrich fetches full metadata for a single item so the overlay can show
// its title and upload date. Failures are non-fatal; callers keep the
// flat metadata they already have.
func (r *Resolver) Enrich(ctx context.Context, item Item) (Item, error) {
	if item.Direct {
		return item, nil
	}
	out, err := r.run(ctx, "-J", "--no-playlist", "--no-warnings", item.URL)
	if err != nil {
		return item, err
	}
	var meta ytMetadata
	if err := unmarshalMetadata(out, &meta); err != nil {
		return item, err
	}
	enriched := itemFromMetadata(&meta, item.URL)
	if enriched.Title == "" {
		enriched.Title = item.Title
	}
	return enriched, nil
}

// run invokes the downloader with its configured base arguments plus
// args, returning stdout. Errors carry a resolve code.
func (r *Resolver) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	argv := append(append([]string{}, r.downloader.BaseArgs...), args...)
	cmd := exec.CommandContext(ctx, r.downloader.Path, argv...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	r.logger.Debug("running downloader", "path", r.downloader.Path, "args", strings.Join(argv, " "))

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	return nil, r.classifyRunError(err, ctx.Err(), stderr.String())
}

func (r *Resolver) classifyRunError(err, ctxErr error, stderr string) error {
	excerpt := firstLine(stderr)
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return NewResolveError(ErrCodeResolveTimeout,
			fmt.Sprintf("downloader did not finish within %s", r.timeout), err)
	}
	lowered := strings.ToLower(stderr)
	for _, pattern := range offlinePatterns {
		if strings.Contains(lowered, pattern) {
			return NewResolveError(ErrCodeChannelOffline, excerpt, err)
		}
	}
	if excerpt == "" {
		excerpt = "downloader failed"
	}
	return NewResolveError(ErrCodeUnsupportedSource, excerpt, err)
}

func unmarshalMetadata(out []byte, meta *ytMetadata) error {
	if err := json.Unmarshal(out, meta); err != nil {
		return NewResolveError(ErrCodeUnsupportedSource, "downloader returned invalid metadata", err)
	}
	return nil
}

// playable filters playlist entries the platform has withdrawn.
func playable(entry *ytMetadata) bool {
	switch entry.Title {
	case "[Private video]", "[Deleted video]", "[Unavailable video]":
		return false
	}
	return entry.URL != "" || entry.WebpageURL != "" || entry.ID != ""
}

func itemFromMetadata(meta *ytMetadata, fallbackURL string) Item {
	item := Item{
		ID:          meta.ID,
		Title:       meta.Title,
		DurationSec: meta.Duration,
		Live:        meta.IsLive,
	}

	switch {
	case meta.WebpageURL != "":
		item.URL = meta.WebpageURL
	case strings.HasPrefix(meta.URL, "http"):
		item.URL = meta.URL
	case meta.ID != "":
		// Flat playlist entries from older downloader builds carry
		// only the video ID.
		item.URL = "https://www.youtube.com/watch?v=" + meta.ID
	default:
		item.URL = fallbackURL
	}

	if meta.UploadDate != "" {
		if t, err := time.Parse("20060102", meta.UploadDate); err == nil {
			item.UploadDate = t
		}
	}
	item.Platform = PlatformFor(item.URL)
	if meta.Channel != "" {
		item.Channel = meta.Channel
	} else {
		item.Channel = meta.Uploader
	}
	return item
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
