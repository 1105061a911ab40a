// Package audio holds the PCM primitives shared by capture, room transport
// and playback: the frame type, format conversion, fixed-duration chunking
// and the opus codec.
//
// All PCM in this package is 16-bit signed little-endian, interleaved when
// multi-channel.
package audio

import (
	"fmt"
	"time"
)

// AudioFrame is a single block of PCM audio as delivered by a microphone or
// decoded from a remote track.
type AudioFrame struct {
	// Data is 16-bit little-endian PCM.
	Data []byte

	// SampleRate in Hz (48000 for devices and opus, 16000 for recognizers).
	SampleRate int

	// Channels is 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long len(pcm) bytes last in this format.
func (f Format) Duration(pcm []byte) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(len(pcm)) * time.Second / time.Duration(bps)
}

// Int16sToBytes converts int16 samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to int16 samples. A trailing odd
// byte is ignored.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// MonoFloat32s averages the channels of interleaved PCM into mono samples
// scaled to [-1, 1], the input format of whisper.cpp.
func MonoFloat32s(pcm []byte, channels int) []float32 {
	channels = max(channels, 1)
	out := make([]float32, len(pcm)/(2*channels))
	for i := range out {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		out[i] = float32(sum) / float32(channels) / 32768
	}
	return out
}
