package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/shadowalign/pkg/types"
)

// Codec names the encoding detected in a blob.
type Codec string

const (
	CodecUnknown Codec = "unknown"
	CodecWAV     Codec = "wav"
	CodecMP3     Codec = "mp3"
	CodecFLAC    Codec = "flac"
	CodecVorbis  Codec = "vorbis"
	CodecOpus    Codec = "opus"
)

const (
	// DefaultSampleRate is the canonical rate every decoded buffer is
	// resampled to.
	DefaultSampleRate = 16000

	// DefaultMaxBytes caps blob size at 25 MiB.
	DefaultMaxBytes = 25 << 20
)

// raw is codec output before normalisation.
type raw struct {
	samples  []float32 // interleaved
	channels int
	rate     int
}

// Decoder turns encoded audio blobs into mono PCM at a fixed rate. It holds
// no per-call state and is safe for concurrent use.
type Decoder struct {
	targetRate int
	quality    int
	maxBytes   int
}

// DecoderOption configures a [Decoder].
type DecoderOption func(*Decoder)

// WithTargetRate sets the output sample rate. Default: [DefaultSampleRate].
func WithTargetRate(hz int) DecoderOption {
	return func(d *Decoder) { d.targetRate = hz }
}

// WithResampleQuality sets the resampler quality (1 to 64).
// Default: [DefaultResampleQuality].
func WithResampleQuality(q int) DecoderOption {
	return func(d *Decoder) { d.quality = q }
}

// WithMaxBytes sets the largest accepted blob. Zero disables the limit.
// Default: [DefaultMaxBytes].
func WithMaxBytes(n int) DecoderOption {
	return func(d *Decoder) { d.maxBytes = n }
}

// NewDecoder creates a [Decoder]. It returns a [types.ConfigurationError] if
// an option is out of range.
func NewDecoder(opts ...DecoderOption) (*Decoder, error) {
	d := &Decoder{
		targetRate: DefaultSampleRate,
		quality:    DefaultResampleQuality,
		maxBytes:   DefaultMaxBytes,
	}
	for _, o := range opts {
		o(d)
	}

	var errs []error
	if d.targetRate < 8000 || d.targetRate > 48000 {
		errs = append(errs, types.NewConfigurationError("decoder.sample_rate", d.targetRate, "must be in [8000, 48000]"))
	}
	if d.quality < 1 || d.quality > 64 {
		errs = append(errs, types.NewConfigurationError("decoder.resample_quality", d.quality, "must be in [1, 64]"))
	}
	if d.maxBytes < 0 {
		errs = append(errs, types.NewConfigurationError("decoder.max_blob_bytes", d.maxBytes, "must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return d, nil
}

// TargetRate returns the sample rate of every buffer this decoder emits.
func (d *Decoder) TargetRate() int { return d.targetRate }

// Decode converts blob into a mono [PCMBuffer] at the decoder's target rate.
// Multi-channel input is downmixed by averaging. Any failure is returned as a
// *[DecodeError] unless ctx is cancelled first.
func (d *Decoder) Decode(ctx context.Context, blob []byte) (PCMBuffer, error) {
	if err := ctx.Err(); err != nil {
		return PCMBuffer{}, err
	}
	if d.maxBytes > 0 && len(blob) > d.maxBytes {
		return PCMBuffer{}, decodeErr(KindTooLarge, CodecUnknown,
			fmt.Errorf("%d bytes exceeds limit of %d", len(blob), d.maxBytes))
	}
	if len(blob) == 0 {
		return PCMBuffer{}, decodeErr(KindEmpty, CodecUnknown, nil)
	}

	codec := Sniff(blob)
	var (
		r   raw
		err error
	)
	switch codec {
	case CodecWAV:
		r, err = decodeWAV(blob)
	case CodecMP3, CodecFLAC, CodecVorbis:
		r, err = decodeBeep(codec, blob)
	case CodecOpus:
		r, err = decodeOpus(blob)
	default:
		return PCMBuffer{}, decodeErr(KindUnrecognized, CodecUnknown, fmt.Errorf("header % x", blob[:min(len(blob), 12)]))
	}
	if err != nil {
		return PCMBuffer{}, classify(codec, err)
	}
	if len(r.samples) < max(1, r.channels) {
		return PCMBuffer{}, decodeErr(KindEmpty, codec, nil)
	}

	if err := ctx.Err(); err != nil {
		return PCMBuffer{}, err
	}

	conv := FormatConverter{
		Target:  Format{SampleRate: d.targetRate, Channels: 1},
		Quality: d.quality,
	}
	out, err := conv.Convert(PCMBuffer{Samples: r.samples, SampleRate: r.rate, Channels: r.channels})
	if err != nil {
		return PCMBuffer{}, decodeErr(KindCorrupt, codec, err)
	}
	if out.Len() == 0 {
		return PCMBuffer{}, decodeErr(KindEmpty, codec, nil)
	}

	slog.Debug("audio decoded",
		"codec", codec,
		"source", formatString(r.rate, r.channels),
		"frames", out.Len(),
		"duration", out.Duration(),
	)
	return out, nil
}

var defaultDecoder = &Decoder{
	targetRate: DefaultSampleRate,
	quality:    DefaultResampleQuality,
	maxBytes:   DefaultMaxBytes,
}

// Decode decodes blob with the default decoder settings.
func Decode(ctx context.Context, blob []byte) (PCMBuffer, error) {
	return defaultDecoder.Decode(ctx, blob)
}

// Sniff detects the codec of blob from its leading bytes.
func Sniff(blob []byte) Codec {
	switch {
	case len(blob) >= 12 && bytes.Equal(blob[0:4], []byte("RIFF")) && bytes.Equal(blob[8:12], []byte("WAVE")):
		return CodecWAV
	case bytes.HasPrefix(blob, []byte("fLaC")):
		return CodecFLAC
	case bytes.HasPrefix(blob, []byte("OggS")):
		head := blob[:min(len(blob), 128)]
		if bytes.Contains(head, []byte("OpusHead")) {
			return CodecOpus
		}
		if bytes.Contains(head, []byte("\x01vorbis")) {
			return CodecVorbis
		}
		return CodecUnknown
	case bytes.HasPrefix(blob, []byte("ID3")):
		return CodecMP3
	// MPEG audio frame sync with a non-reserved layer; AAC ADTS has layer 00.
	case len(blob) >= 2 && blob[0] == 0xFF && blob[1]&0xE0 == 0xE0 && blob[1]&0x06 != 0:
		return CodecMP3
	}
	return CodecUnknown
}
