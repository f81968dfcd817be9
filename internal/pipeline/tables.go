package pipeline

import "github.com/TheDoctorTTV/247-steam/internal/config"

// dimensions maps a quality preset to its output frame size. The scale
// filter derives width from height, so Width is informational.
var dimensions = map[string]struct{ Width, Height int }{
	config.Quality480p:  {854, 480},
	config.Quality720p:  {1280, 720},
	config.Quality1080p: {1920, 1080},
	config.Quality1440p: {2560, 1440},
	config.Quality4K:    {3840, 2160},
}

type rateKey struct {
	Height int
	FPS    int
}

// bitrateTable holds the default video bitrate in kbps per quality and
// frame rate.
var bitrateTable = map[rateKey]int{
	{480, 30}:  1200,
	{480, 60}:  1800,
	{720, 30}:  2300,
	{720, 60}:  3200,
	{1080, 30}: 4500,
	{1080, 60}: 6800,
	{1440, 30}: 9000,
	{1440, 60}: 14000,
	{2160, 30}: 16000,
	{2160, 60}: 24000,
}

// bufferMultiplier scales the encoder's rate-control buffer relative to
// the video bitrate.
var bufferMultiplier = map[string]int{
	config.BufferLow:    1,
	config.BufferMedium: 2,
	config.BufferHigh:   3,
	config.BufferUltra:  4,
}

// BitrateFor returns the table bitrate in kbps for a quality preset and
// frame rate. Unknown combinations fall back to 720p30.
func BitrateFor(quality string, fps int) int {
	dim, ok := dimensions[quality]
	if !ok {
		dim = dimensions[config.Quality720p]
	}
	if rate, ok := bitrateTable[rateKey{dim.Height, fps}]; ok {
		return rate
	}
	return bitrateTable[rateKey{dim.Height, 30}]
}

// BufferFor returns the rate-control buffer in kbps for a preset given
// the video bitrate.
func BufferFor(preset string, bitrateKbps int) int {
	mult, ok := bufferMultiplier[preset]
	if !ok {
		mult = bufferMultiplier[config.BufferMedium]
	}
	return bitrateKbps * mult
}
