package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/MrWong99/shadowalign/internal/observe"
	"github.com/MrWong99/shadowalign/internal/resilience"
	"github.com/MrWong99/shadowalign/internal/session"
	"github.com/MrWong99/shadowalign/pkg/align"
	"github.com/MrWong99/shadowalign/pkg/audio"
	"github.com/MrWong99/shadowalign/pkg/types"
)

const (
	contentTypeJSON = "application/json"
	contentTypeCBOR = "application/cbor"
)

// errorDetail is the wire form of an error, both for failed requests and for
// per-side failures inside a result.
type errorDetail struct {
	// Code is the HTTP status the error maps to.
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`

	// Reason and Codec are set for decode failures.
	Reason string `json:"reason,omitempty"`
	Codec  string `json:"codec,omitempty"`

	// Field is set for configuration errors.
	Field string `json:"field,omitempty"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// classify maps err to an HTTP status and a stable kind string.
func classify(err error) (int, string) {
	var (
		de  *audio.DecodeError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity, "decode"
	case types.IsConfigurationError(err):
		return http.StatusBadRequest, "configuration"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone, "closed"
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusServiceUnavailable, "capacity"
	case errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case errors.Is(err, session.ErrNoRecording):
		return http.StatusNotFound, "no_recording"
	case errors.Is(err, align.ErrNothingToAlign):
		return http.StatusUnprocessableEntity, "nothing_to_align"
	case errors.Is(err, align.ErrRateMismatch):
		return http.StatusUnprocessableEntity, "rate_mismatch"
	case errors.Is(err, resilience.ErrAllFailed):
		return http.StatusServiceUnavailable, "vad_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func newErrorDetail(err error) *errorDetail {
	if err == nil {
		return nil
	}
	code, kind := classify(err)
	d := &errorDetail{Code: code, Kind: kind, Message: err.Error()}

	var de *audio.DecodeError
	if errors.As(err, &de) {
		d.Reason = de.Kind.String()
		d.Codec = string(de.Codec)
	}
	var ce *types.ConfigurationError
	if errors.As(err, &ce) {
		d.Field = ce.Field
	}
	return d
}

// wantsCBOR reports whether the Accept header prefers CBOR over JSON.
func wantsCBOR(r *http.Request) bool {
	for part := range strings.SplitSeq(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case contentTypeCBOR:
			return true
		case contentTypeJSON:
			return false
		}
	}
	return false
}

// respond writes v with the negotiated encoding.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsCBOR(r) {
		data, err := cbor.Marshal(v)
		if err != nil {
			observe.Logger(r.Context()).Error("encode cbor response", "err", err)
			http.Error(w, "encode response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentTypeCBOR)
		w.WriteHeader(status)
		_, _ = w.Write(data)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON+"; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes err with the status [classify] picks for it. Server
// errors are logged; client errors are not.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	d := newErrorDetail(err)
	if d.Code >= http.StatusInternalServerError {
		observe.Logger(r.Context()).LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", d.Kind),
			slog.Any("err", err),
		)
	}
	respond(w, r, d.Code, errorResponse{Error: *d})
}
