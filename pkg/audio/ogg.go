package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const oggPageHeaderSize = 27

var oggCapture = []byte("OggS")

// oggPackets splits an Ogg container into the packets of its first logical
// bitstream. Pages of other streams are skipped. CRCs are not verified.
func oggPackets(blob []byte) ([][]byte, error) {
	var (
		packets [][]byte
		partial []byte
		serial  uint32
		first   = true
		pos     = 0
	)
	for pos < len(blob) {
		if len(blob)-pos < oggPageHeaderSize {
			return nil, fmt.Errorf("ogg: page header at %d: %w", pos, io.ErrUnexpectedEOF)
		}
		hdr := blob[pos : pos+oggPageHeaderSize]
		if !bytes.Equal(hdr[0:4], oggCapture) {
			return nil, fmt.Errorf("ogg: missing capture pattern at %d", pos)
		}
		if hdr[4] != 0 {
			return nil, fmt.Errorf("ogg: unsupported stream structure version %d", hdr[4])
		}
		pageSerial := binary.LittleEndian.Uint32(hdr[14:18])
		nsegs := int(hdr[26])

		lacingStart := pos + oggPageHeaderSize
		if len(blob) < lacingStart+nsegs {
			return nil, fmt.Errorf("ogg: segment table at %d: %w", lacingStart, io.ErrUnexpectedEOF)
		}
		lacing := blob[lacingStart : lacingStart+nsegs]
		bodyLen := 0
		for _, l := range lacing {
			bodyLen += int(l)
		}
		bodyStart := lacingStart + nsegs
		if len(blob) < bodyStart+bodyLen {
			return nil, fmt.Errorf("ogg: page body at %d: %w", bodyStart, io.ErrUnexpectedEOF)
		}
		pos = bodyStart + bodyLen

		if first {
			serial = pageSerial
			first = false
		}
		if pageSerial != serial {
			continue
		}

		body := blob[bodyStart : bodyStart+bodyLen]
		off := 0
		for _, l := range lacing {
			partial = append(partial, body[off:off+int(l)]...)
			off += int(l)
			if l < 255 {
				packets = append(packets, partial)
				partial = nil
			}
		}
	}
	if len(partial) > 0 {
		return nil, fmt.Errorf("ogg: final packet continues past end of stream: %w", io.ErrUnexpectedEOF)
	}
	if len(packets) == 0 {
		return nil, errors.New("ogg: no packets")
	}
	return packets, nil
}
