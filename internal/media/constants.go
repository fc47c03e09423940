// Package media discovers media files and extracts audio and frames via ffmpeg
package media

import "time"

// Extraction defaults
const (
	// PCM extraction target format for the VAD backend
	PCMSampleRate = 16000

	// Timeout for a single ffmpeg/ffprobe invocation
	ExtractTimeout = 10 * time.Minute

	// JPEG quality flag passed to ffmpeg frame extraction
	FrameQuality = "2"
)
