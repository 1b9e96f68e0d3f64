// Package audio delivers decoded PCM chunks to their final destination.
//
// The decoder always produces 16-bit little-endian mono PCM at the codec's
// native rate. The sinks in this package adapt that stream for callers:
// [WAVSink] writes a RIFF/WAVE file, [PCMSink] forwards raw (optionally
// resampled) PCM to any io.Writer, and [OpusSink] packs 20 ms Opus packets
// for low-bandwidth transports. All of them implement bridge.Sink.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "24000Hz mono".
func (f Format) String() string { return formatString(f.SampleRate, f.Channels) }

// Validate reports whether f is a format the converter can produce.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate))
	}
	if f.Channels != 1 && f.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels))
	}
	return errors.Join(errs...)
}

// Converter turns a mono s16le stream into a target format. Resampling is
// linear and stateful across calls, so chunk boundaries do not click.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	from, to Format

	// pos is the position of the next output sample, in input samples,
	// relative to the first sample of the current buffer.
	pos     float64
	prev    int16
	hasPrev bool

	warnedCorrupt sync.Once
}

// NewConverter returns a Converter from the mono source rate to target.
func NewConverter(sourceRate int, target Format) (*Converter, error) {
	from := Format{SampleRate: sourceRate, Channels: 1}
	if err := errors.Join(from.Validate(), target.Validate()); err != nil {
		return nil, err
	}
	if from != target {
		slog.Debug("audio converter configured", "from", from, "to", target)
	}
	return &Converter{from: from, to: target}, nil
}

// Target returns the output format.
func (c *Converter) Target() Format { return c.to }

// Passthrough reports whether Convert returns its input unchanged.
func (c *Converter) Passthrough() bool { return c.from == c.to }

// Convert converts one block of mono PCM. If the formats already match, pcm is
// returned unchanged (zero allocation). Resampling happens before channel
// duplication.
func (c *Converter) Convert(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, dropping trailing byte",
				"bytes", len(pcm),
				"format", c.from,
			)
		})
		pcm = pcm[:len(pcm)-1]
	}
	if c.Passthrough() {
		return pcm
	}
	if c.from.SampleRate != c.to.SampleRate {
		pcm = c.resample(pcm)
	}
	if c.to.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

func (c *Converter) resample(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	buf := make([]int16, 0, n+1)
	if c.hasPrev {
		buf = append(buf, c.prev)
	}
	for i := range n {
		buf = append(buf, int16(pcm[i*2])|int16(pcm[i*2+1])<<8)
	}

	ratio := float64(c.from.SampleRate) / float64(c.to.SampleRate)
	out := make([]byte, 0, int(float64(len(buf))/ratio+2)*2)
	for int(c.pos)+1 < len(buf) {
		i := int(c.pos)
		frac := c.pos - float64(i)
		s := int16(float64(buf[i])*(1-frac) + float64(buf[i+1])*frac)
		out = append(out, byte(s), byte(s>>8))
		c.pos += ratio
	}

	// The last sample becomes index 0 of the next buffer.
	c.pos -= float64(len(buf) - 1)
	c.prev = buf[len(buf)-1]
	c.hasPrev = true
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
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

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
