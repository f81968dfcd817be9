// Package source classifies stream source URLs and resolves them into
// playable item queues using the downloader's metadata modes.
package source

import "time"

// Kind classifies what a source URL points at.
type Kind string

// Source kinds.
const (
	KindPlaylist Kind = "playlist" // ordered collection of videos
	KindVideo    Kind = "video"    // single video page
	KindChannel  Kind = "channel"  // live channel page
	KindDirect   Kind = "direct"   // raw stream URL, no downloader needed
)

// Item is one playable entry in the queue.
type Item struct {
	// URL is the page URL for downloader-fed items, or the media URL
	// for direct items.
	URL string `json:"url"`

	// ID is the platform video ID when known.
	ID string `json:"id,omitempty"`

	Title string `json:"title"`

	// DurationSec is zero when unknown or live.
	DurationSec float64 `json:"duration_sec,omitempty"`

	// UploadDate is zero when the platform did not report one.
	UploadDate time.Time `json:"upload_date,omitempty"`

	// Live items never end on their own; the encoder runs until
	// stopped or the feed drops.
	Live bool `json:"live"`

	// Direct items bypass the downloader stage; the encoder reads the
	// URL itself.
	Direct bool `json:"direct"`

	// Platform and Channel feed the live overlay ("Twitch • somechannel").
	Platform string `json:"platform,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// Resolution is the result of resolving a source URL.
type Resolution struct {
	Kind  Kind   `json:"kind"`
	Title string `json:"title,omitempty"`
	Items []Item `json:"items"`
}
