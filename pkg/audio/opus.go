package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"
)

// Opus always decodes at 48 kHz; the largest legal packet is 120 ms.
const (
	opusSampleRate   = 48000
	opusMaxFrameSize = 5760
	opusHeadSize     = 19
)

// opusHead is the identification header of an Ogg Opus stream (RFC 7845 §5.1).
type opusHead struct {
	channels int
	preSkip  int
	mapping  byte
}

func parseOpusHead(p []byte) (opusHead, error) {
	if len(p) < opusHeadSize || !bytes.HasPrefix(p, []byte("OpusHead")) {
		return opusHead{}, errors.New("opus: missing OpusHead packet")
	}
	if v := p[8]; v>>4 != 0 {
		return opusHead{}, fmt.Errorf("opus: unsupported header version %d", v)
	}
	h := opusHead{
		channels: int(p[9]),
		preSkip:  int(binary.LittleEndian.Uint16(p[10:12])),
		mapping:  p[18],
	}
	if h.channels < 1 || h.channels > 2 || h.mapping != 0 {
		return opusHead{}, fmt.Errorf("opus: %d channels with mapping family %d not supported", h.channels, h.mapping)
	}
	return h, nil
}

// decodeOpus decodes an Ogg Opus file. The first packet is OpusHead, the
// second OpusTags; everything after is audio.
func decodeOpus(blob []byte) (raw, error) {
	packets, err := oggPackets(blob)
	if err != nil {
		return raw{}, err
	}
	head, err := parseOpusHead(packets[0])
	if err != nil {
		return raw{}, decodeErr(KindUnrecognized, CodecOpus, err)
	}
	if len(packets) < 2 || !bytes.HasPrefix(packets[1], []byte("OpusTags")) {
		return raw{}, decodeErr(KindTruncated, CodecOpus, errors.New("opus: missing OpusTags packet"))
	}

	dec, err := gopus.NewDecoder(opusSampleRate, head.channels)
	if err != nil {
		return raw{}, fmt.Errorf("opus: create decoder: %w", err)
	}

	var pcm []int16
	for i, p := range packets[2:] {
		if len(p) == 0 {
			continue
		}
		out, err := dec.Decode(p, opusMaxFrameSize, false)
		if err != nil {
			return raw{}, fmt.Errorf("opus: packet %d: %w", i, err)
		}
		pcm = append(pcm, out...)
	}

	skip := min(head.preSkip*head.channels, len(pcm))
	return raw{
		samples:  Int16ToFloat32(pcm[skip:]),
		channels: head.channels,
		rate:     opusSampleRate,
	}, nil
}
