package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Room transports carry 48 kHz opus in 20 ms frames.
const (
	OpusSampleRate  = 48000
	OpusFrameMs     = 20
	opusMaxDataSize = 4000
)

// OpusFrameSamples is the number of samples per channel in one opus frame.
const OpusFrameSamples = OpusSampleRate * OpusFrameMs / 1000

// OpusDecoder decodes opus packets for a single inbound stream. Decoder state
// is per stream and must not be shared.
type OpusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewOpusDecoder creates a 48 kHz decoder with the given channel count.
func NewOpusDecoder(channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(OpusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode decodes one packet into an AudioFrame of interleaved PCM.
func (d *OpusDecoder) Decode(packet []byte) (AudioFrame, error) {
	pcm, err := d.dec.Decode(packet, OpusFrameSamples, false)
	if err != nil {
		return AudioFrame{}, fmt.Errorf("audio: opus decode: %w", err)
	}
	return AudioFrame{Data: Int16sToBytes(pcm), SampleRate: OpusSampleRate, Channels: d.channels}, nil
}

// OpusEncoder encodes PCM for an outbound stream.
type OpusEncoder struct {
	enc      *gopus.Encoder
	channels int
	pending  []byte
}

// NewOpusEncoder creates a 48 kHz voice encoder with the given channel count.
func NewOpusEncoder(channels int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(OpusSampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc, channels: channels}, nil
}

// Encode buffers 48 kHz PCM and returns one opus packet per complete 20 ms
// frame. Leftover samples are kept for the next call.
func (e *OpusEncoder) Encode(pcm []byte) ([][]byte, error) {
	e.pending = append(e.pending, pcm...)
	frameBytes := OpusFrameSamples * e.channels * 2

	var packets [][]byte
	for len(e.pending) >= frameBytes {
		samples := BytesToInt16s(e.pending[:frameBytes])
		e.pending = e.pending[frameBytes:]
		packet, err := e.enc.Encode(samples, OpusFrameSamples, opusMaxDataSize)
		if err != nil {
			return packets, fmt.Errorf("audio: opus encode: %w", err)
		}
		packets = append(packets, packet)
	}
	return packets, nil
}
