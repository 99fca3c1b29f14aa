// Package mock provides an in-memory test double for audio decoding.
//
// Decoder is safe for concurrent use. It records every call so that tests can
// assert on call counts and blobs, and exposes exported fields that the test
// can set to control return values.
//
// Typical usage:
//
//	dec := &mock.Decoder{
//	    Result: audio.PCMBuffer{Samples: samples, SampleRate: 16000, Channels: 1},
//	}
//	buf, err := dec.Decode(ctx, []byte("blob"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/shadowalign/pkg/audio"
)

// DecodeCall records a single invocation of [Decoder.Decode].
type DecodeCall struct {
	// Blob is the data passed to Decode.
	Blob []byte
}

// Decoder is a mock audio decoder with the same Decode signature as
// [audio.Decoder].
type Decoder struct {
	mu sync.Mutex

	// Result is returned by Decode when DecodeFunc is nil.
	Result audio.PCMBuffer

	// Err, if non-nil, is returned as the error from Decode when DecodeFunc
	// is nil.
	Err error

	// DecodeFunc, if set, overrides Result and Err. Use it to block, inspect
	// the context, or return per-blob results.
	DecodeFunc func(ctx context.Context, blob []byte) (audio.PCMBuffer, error)

	// DecodeCalls records every call to Decode in order.
	DecodeCalls []DecodeCall

	// Rate is returned by TargetRate. Defaults to [audio.DefaultSampleRate].
	Rate int
}

// TargetRate returns Rate, or the default rate when Rate is zero.
func (d *Decoder) TargetRate() int {
	if d.Rate == 0 {
		return audio.DefaultSampleRate
	}
	return d.Rate
}

// Decode records the call and returns DecodeFunc's result, or Result, Err.
func (d *Decoder) Decode(ctx context.Context, blob []byte) (audio.PCMBuffer, error) {
	d.mu.Lock()
	d.DecodeCalls = append(d.DecodeCalls, DecodeCall{Blob: blob})
	fn := d.DecodeFunc
	res, err := d.Result, d.Err
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, blob)
	}
	return res, err
}

// CallCount returns the number of Decode calls so far. Thread-safe.
func (d *Decoder) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DecodeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DecodeCalls = nil
}
