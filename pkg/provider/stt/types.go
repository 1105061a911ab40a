package stt

import "time"

// Transcript is a recognition result. Partial and final results share it.
type Transcript struct {
	// Text is the recognized speech.
	Text string

	// IsFinal is true once the provider will not revise this segment.
	IsFinal bool

	// Confidence in [0,1]; zero when not reported.
	Confidence float64

	// Timestamp is the segment start relative to session start.
	Timestamp time.Duration
}
