package audioio

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// DecodeWAV reads a WAV file and returns its PCM payload as raw
// little-endian S16 bytes. The file must match the given config
// (sample rate, channel count, 16-bit depth); anything else is an
// error rather than a silent resample.
func DecodeWAV(path string, cfg Config) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("audioio: %s is not a valid wav file", path)
	}
	dec.ReadInfo()
	if int(dec.SampleRate) != cfg.SampleRate {
		return nil, fmt.Errorf("audioio: %s sample rate %d, want %d", path, dec.SampleRate, cfg.SampleRate)
	}
	if int(dec.NumChans) != cfg.Channels {
		return nil, fmt.Errorf("audioio: %s has %d channels, want %d", path, dec.NumChans, cfg.Channels)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("audioio: %s bit depth %d, want 16", path, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		s := int16(v)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm, nil
}

// PlayWAVFile decodes a WAV file and plays it through the sink in
// whole frames, zero-padding the tail. The sink must already be
// started. Playback stops early if ctx is cancelled.
func PlayWAVFile(ctx context.Context, path string, sink Sink) error {
	pcm, err := DecodeWAV(path, sink.Config())
	if err != nil {
		return err
	}

	fw := NewFrameWriter(sink)
	cfg := sink.Config()
	frameBytes := cfg.FrameBytes()
	for off := 0; off < len(pcm); off += frameBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := fw.Push(pcm[off:end]); err != nil {
			return err
		}
	}
	return fw.Flush()
}
