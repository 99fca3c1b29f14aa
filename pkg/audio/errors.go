package audio

import (
	"errors"
	"fmt"
	"io"
)

// ErrorKind classifies why a blob could not be decoded.
type ErrorKind int

const (
	// KindUnrecognized means the header matched no supported container or codec.
	KindUnrecognized ErrorKind = iota

	// KindTruncated means the stream ended before the header said it would.
	KindTruncated

	// KindEmpty means decoding succeeded but produced zero samples.
	KindEmpty

	// KindCorrupt means the codec rejected the payload.
	KindCorrupt

	// KindTooLarge means the blob exceeds the decoder's size limit.
	KindTooLarge
)

// String returns the lower-case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnrecognized:
		return "unrecognized"
	case KindTruncated:
		return "truncated"
	case KindEmpty:
		return "empty"
	case KindCorrupt:
		return "corrupt"
	case KindTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// DecodeError is returned by [Decoder.Decode] for any input that cannot be
// turned into samples. It is fatal for that recording only.
type DecodeError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Codec is the codec detected by [Sniff], or [CodecUnknown].
	Codec Codec

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audio: decode %s: %s", e.Codec, e.Kind)
	}
	return fmt.Sprintf("audio: decode %s: %s: %v", e.Codec, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(kind ErrorKind, codec Codec, err error) *DecodeError {
	return &DecodeError{Kind: kind, Codec: codec, Err: err}
}

// classify maps a codec library error onto a [DecodeError]. Premature EOFs
// become [KindTruncated]; everything else is [KindCorrupt].
func classify(codec Codec, err error) *DecodeError {
	var de *DecodeError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return decodeErr(KindTruncated, codec, err)
	}
	return decodeErr(KindCorrupt, codec, err)
}
