package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavHeaderSize is the size of a canonical 44-byte RIFF/WAVE PCM header.
const wavHeaderSize = 44

const wavFormatPCM = 1

func decodeWAV(blob []byte) (raw, error) {
	if len(blob) < wavHeaderSize {
		return raw{}, decodeErr(KindTruncated, CodecWAV,
			fmt.Errorf("%d bytes is shorter than a WAV header", len(blob)))
	}

	d := wav.NewDecoder(bytes.NewReader(blob))
	if !d.IsValidFile() {
		if err := d.Err(); err != nil && (errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)) {
			return raw{}, decodeErr(KindTruncated, CodecWAV, err)
		}
		return raw{}, decodeErr(KindUnrecognized, CodecWAV, errors.New("invalid RIFF/WAVE header"))
	}
	if d.WavAudioFormat != wavFormatPCM {
		return raw{}, decodeErr(KindUnrecognized, CodecWAV,
			fmt.Errorf("audio format %d is not integer PCM", d.WavAudioFormat))
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return raw{}, err
	}
	if buf == nil || buf.Format == nil {
		return raw{}, decodeErr(KindCorrupt, CodecWAV, errors.New("no PCM data chunk"))
	}

	bitDepth := int(d.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	bytesPerSample := int64(bitDepth / 8)

	// Streaming writers leave the data size at 0 or 0xFFFFFFFF; only trust
	// sizes that could be real.
	if declared := d.PCMLen(); declared > 0 && declared < math.MaxUint32 && bytesPerSample > 0 {
		if got := int64(len(buf.Data)) * bytesPerSample; got < declared {
			return raw{}, decodeErr(KindTruncated, CodecWAV,
				fmt.Errorf("data chunk declares %d bytes, found %d", declared, got))
		}
	}

	samples, err := IntToFloat32(buf.Data, bitDepth)
	if err != nil {
		return raw{}, decodeErr(KindUnrecognized, CodecWAV, err)
	}
	return raw{
		samples:  samples,
		channels: buf.Format.NumChannels,
		rate:     buf.Format.SampleRate,
	}, nil
}

// EncodeWAV writes buf to w as a 16-bit integer PCM WAV file. Samples outside
// [-1.0, 1.0] are clamped.
func EncodeWAV(w io.WriteSeeker, buf PCMBuffer) error {
	channels := max(1, buf.Channels)
	if buf.SampleRate <= 0 {
		return fmt.Errorf("audio: encode wav: invalid sample rate %d", buf.SampleRate)
	}

	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(math.Round(float64(clamp(s)) * 32767))
	}

	enc := wav.NewEncoder(w, buf.SampleRate, 16, channels, wavFormatPCM)
	ib := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  buf.SampleRate,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: encode wav: close: %w", err)
	}
	return nil
}

// WAVBytes encodes buf with [EncodeWAV] into memory.
func WAVBytes(buf PCMBuffer) ([]byte, error) {
	var f memFile
	if err := EncodeWAV(&f, buf); err != nil {
		return nil, err
	}
	return f.buf, nil
}

// memFile is an in-memory io.WriteSeeker. The WAV encoder seeks back to patch
// chunk sizes once the data length is known.
type memFile struct {
	buf []byte
	pos int64
}

func (f *memFile) Write(p []byte) (int, error) {
	end := f.pos + int64(len(p))
	if end > int64(len(f.buf)) {
		f.buf = append(f.buf, make([]byte, end-int64(len(f.buf)))...)
	}
	copy(f.buf[f.pos:end], p)
	f.pos = end
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.pos + offset
	case io.SeekEnd:
		abs = int64(len(f.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("audio: seek: negative position")
	}
	f.pos = abs
	return abs, nil
}
