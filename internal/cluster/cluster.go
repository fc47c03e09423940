// Package cluster merges chronological speech segments into speech blocks.
// A block is a run of segments whose internal silences never exceed the gap
// threshold; blocks are the unit downstream transcription targets.
package cluster

import "math"

// DefaultGapThreshold is the silence duration, in seconds, tolerated within
// a single block before splitting.
const DefaultGapThreshold = 180.0

// Segment is one backend-reported utterance span in seconds.
type Segment struct {
	Start float64
	End   float64
}

// Block is a merged run of segments, boundaries rounded to 2 decimals.
type Block struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Cluster merges a chronologically ordered segment sequence into blocks.
// A gap strictly greater than gapThreshold seconds starts a new block; a gap
// exactly equal to the threshold merges. Returns the blocks and the number
// of segments consumed. Empty input yields zero blocks.
//
// Single pass with O(1) extra state: only the open block's start and the
// last segment end are tracked.
func Cluster(segments []Segment, gapThreshold float64) ([]Block, int) {
	var blocks []Block
	currentStart := -1.0
	lastEnd := -1.0
	count := 0

	for _, seg := range segments {
		count++
		if currentStart < 0 {
			currentStart = seg.Start
		}

		if lastEnd >= 0 && seg.Start-lastEnd > gapThreshold {
			blocks = append(blocks, Block{Start: round2(currentStart), End: round2(lastEnd)})
			currentStart = seg.Start
		}

		lastEnd = seg.End
	}

	if currentStart >= 0 {
		blocks = append(blocks, Block{Start: round2(currentStart), End: round2(lastEnd)})
	}

	return blocks, count
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
