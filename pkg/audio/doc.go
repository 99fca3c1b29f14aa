// Package audio decodes recorded audio into normalised PCM buffers.
//
// The central type is [Decoder]: it sniffs the container from the blob's
// leading bytes, decodes it with the matching codec, then downmixes to mono
// and resamples to a single canonical rate. Everything downstream (VAD,
// trimming, alignment) can therefore assume mono float32 samples at
// [Decoder.TargetRate].
//
// Supported inputs:
//
//   - WAV, integer PCM at 8/16/24/32 bits and any channel count
//   - MP3
//   - FLAC
//   - Ogg Vorbis
//   - Ogg Opus (mono or stereo, mapping family 0)
//
// Failures are reported as *[DecodeError] with a [ErrorKind] so that callers
// can tell a truncated upload from an unsupported one.
//
// This package lives under pkg/ because the buffer type and decoder are useful
// to any tool that prepares recordings for alignment.
package audio
