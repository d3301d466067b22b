package discord

import (
	"fmt"

	"github.com/MrWong99/meetscribe/pkg/audio"
	"layeh.com/gopus"
)

// Discord voice carries 48 kHz Opus at 20 ms frames. Recordings are decoded
// to mono, which is what the processing service expects.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// Format is the PCM layout produced by decoders from [NewDecoder].
var Format = audio.PCMFormat{SampleRate: opusSampleRate, Channels: opusChannels}

// Compile-time interface assertion.
var _ audio.Decoder = (*opusDecoder)(nil)

// opusDecoder wraps a gopus Opus decoder for a single participant stream.
// Each participant gets its own decoder to keep decoder state correct across
// consecutive frames.
type opusDecoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates an Opus decoder configured for Discord audio. It
// satisfies [audio.DecoderFactory].
func NewDecoder() (audio.Decoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// Decode decodes an Opus packet into little-endian int16 PCM.
func (d *opusDecoder) Decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
