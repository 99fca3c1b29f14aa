// Package audiotest provides synthetic signals and encoded fixtures for tests
// that exercise the decoding and alignment pipeline.
package audiotest

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"layeh.com/gopus"

	"github.com/MrWong99/shadowalign/pkg/audio"
)

// Rate is the sample rate used by every helper unless stated otherwise.
const Rate = audio.DefaultSampleRate

// Silence returns d of digital silence at rate.
func Silence(d time.Duration, rate int) []float32 {
	return make([]float32, audio.DurationToFrames(d, rate))
}

// Tone returns d of a sine wave at freq Hz with the given peak amplitude.
func Tone(d time.Duration, rate int, freq, amp float64) []float32 {
	n := audio.DurationToFrames(d, rate)
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

// Concat joins sample slices in order.
func Concat(parts ...[]float32) []float32 {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]float32, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Mono wraps samples in a mono [audio.PCMBuffer] at [Rate].
func Mono(samples []float32) audio.PCMBuffer {
	return audio.PCMBuffer{Samples: samples, SampleRate: Rate, Channels: 1}
}

// Utterance builds a mono buffer of alternating silence and speech-like
// tones: lead silence, then for each burst a tone followed by gap silence.
func Utterance(lead time.Duration, bursts []time.Duration, gap time.Duration) audio.PCMBuffer {
	parts := [][]float32{Silence(lead, Rate)}
	for _, b := range bursts {
		parts = append(parts, Tone(b, Rate, 220, 0.5), Silence(gap, Rate))
	}
	return Mono(Concat(parts...))
}

// WAV encodes buf as a 16-bit PCM WAV file and returns its bytes.
func WAV(t testing.TB, buf audio.PCMBuffer) []byte {
	t.Helper()
	data, err := audio.WAVBytes(buf)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return data
}

// OggOpus encodes mono samples at 48 kHz into an Ogg Opus file made of
// 20 ms packets. A trailing partial packet is dropped.
func OggOpus(t testing.TB, samples []float32) []byte {
	t.Helper()
	const (
		rate  = 48000
		frame = rate / 50
	)
	enc, err := gopus.NewEncoder(rate, 1, gopus.Voip)
	if err != nil {
		t.Fatalf("create opus encoder: %v", err)
	}

	var out bytes.Buffer
	w, err := oggwriter.NewWith(&out, rate, 1)
	if err != nil {
		t.Fatalf("create ogg writer: %v", err)
	}

	pcm := make([]int16, frame)
	var ts uint32
	for seq := 0; (seq+1)*frame <= len(samples); seq++ {
		for i, s := range samples[seq*frame : (seq+1)*frame] {
			pcm[i] = int16(max(-1, min(1, s)) * 32767)
		}
		payload, err := enc.Encode(pcm, frame, 1275)
		if err != nil {
			t.Fatalf("encode opus packet %d: %v", seq, err)
		}
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(seq), Timestamp: ts},
			Payload: payload,
		}
		if err := w.WriteRTP(pkt); err != nil {
			t.Fatalf("write ogg page %d: %v", seq, err)
		}
		ts += frame
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close ogg writer: %v", err)
	}
	return out.Bytes()
}
