package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
)

// decodeBeep decodes the lossy and lossless formats beep understands. beep
// always streams two columns; mono sources carry the same value in both.
func decodeBeep(codec Codec, blob []byte) (raw, error) {
	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch codec {
	case CodecMP3:
		s, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(blob)))
	case CodecFLAC:
		s, format, err = flac.Decode(bytes.NewReader(blob))
	case CodecVorbis:
		s, format, err = vorbis.Decode(io.NopCloser(bytes.NewReader(blob)))
	default:
		return raw{}, decodeErr(KindUnrecognized, codec, fmt.Errorf("no beep decoder for %s", codec))
	}
	if err != nil {
		return raw{}, err
	}
	defer s.Close()

	channels := format.NumChannels
	if channels < 1 || channels > 2 {
		channels = 2
	}

	var out []float32
	if n := s.Len(); n > 0 {
		out = make([]float32, 0, n*channels)
	}
	chunk := make([][2]float64, 1024)
	for {
		n, ok := s.Stream(chunk)
		for i := range n {
			out = append(out, float32(chunk[i][0]))
			if channels == 2 {
				out = append(out, float32(chunk[i][1]))
			}
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return raw{}, err
	}

	return raw{
		samples:  out,
		channels: channels,
		rate:     int(format.SampleRate),
	}, nil
}
