package whisper

import (
	"encoding/binary"
	"math"
)

const (
	// bitsPerSample is fixed at 16 for the PCM that whisper.cpp consumes.
	bitsPerSample = 16

	// defaultRMSThreshold is the RMS energy (16-bit PCM units) below which a
	// chunk counts as silence. 300 of a possible 32 767 is near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

// segmenter groups PCM chunks into speech segments. A segment closes after
// silenceThresholdMs of trailing silence or when it reaches maxBytes. Leading
// silence is discarded. It is not safe for concurrent use.
type segmenter struct {
	sampleRate         int
	channels           int
	silenceThresholdMs int
	maxBytes           int

	buffer    []byte
	hadSpeech bool
	silenceMs int
}

func newSegmenter(sampleRate, channels, silenceThresholdMs, maxBufferMs int) *segmenter {
	bytesPerMs := sampleRate * channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	return &segmenter{
		sampleRate:         sampleRate,
		channels:           channels,
		silenceThresholdMs: silenceThresholdMs,
		maxBytes:           maxBufferMs * bytesPerMs,
	}
}

// push adds chunk and returns a completed segment, or nil.
func (s *segmenter) push(chunk []byte) []byte {
	if computeRMS(chunk) < defaultRMSThreshold {
		if !s.hadSpeech {
			return nil
		}
		s.silenceMs += chunkDurationMs(chunk, s.sampleRate, s.channels)
		s.buffer = append(s.buffer, chunk...)
		if s.silenceMs >= s.silenceThresholdMs {
			return s.flush()
		}
		return nil
	}
	s.hadSpeech = true
	s.silenceMs = 0
	s.buffer = append(s.buffer, chunk...)
	if s.maxBytes > 0 && len(s.buffer) >= s.maxBytes {
		return s.flush()
	}
	return nil
}

// flush returns the buffered segment if it holds speech and resets state.
func (s *segmenter) flush() []byte {
	pcm := s.buffer
	speech := s.hadSpeech
	s.buffer = nil
	s.hadSpeech = false
	s.silenceMs = 0
	if !speech || len(pcm) == 0 {
		return nil
	}
	return pcm
}

// computeRMS returns the root-mean-square energy of 16-bit LE PCM.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (bitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}
