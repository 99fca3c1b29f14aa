package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/shadowalign/internal/session"
	"github.com/MrWong99/shadowalign/pkg/audio"
	"github.com/MrWong99/shadowalign/pkg/pipeline"
	"github.com/MrWong99/shadowalign/pkg/types"
)

// errBadRequest marks malformed requests that never reach a session.
var errBadRequest = errors.New("bad request")

// handleCreate handles POST /v1/sessions.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Create()
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+sess.ID())
	respond(w, r, http.StatusCreated, sessionResponse{ID: sess.ID(), CreatedAt: sess.CreatedAt()})
}

// handleDelete handles DELETE /v1/sessions/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePrepare handles POST /v1/sessions/{id}/prepare. The body is a
// multipart form with optional "target" and "attempt" files and an optional
// "config" field holding JSON overrides of the server defaults. A missing
// file keeps that side's previous recording.
//
// The response is 200 with per-side status, or 409 when a newer upload for
// the same session overtook this one.
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondError(w, r, err)
			return
		}
		respondError(w, r, fmt.Errorf("%w: parse multipart form: %w", errBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp file cleanup

	var blobs [len(types.Sides)][]byte
	for i, side := range types.Sides {
		if blobs[i], err = readPart(r, string(side)); err != nil {
			respondError(w, r, err)
			return
		}
	}

	cfg, err := s.requestConfig(r.MultipartForm.Value["config"])
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx, cancel := s.runContext(r.Context())
	defer cancel()
	res, err := sess.Prepare(ctx, blobs[0], blobs[1], cfg)
	if err != nil {
		respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Target.Status == session.StatusSuperseded || res.Attempt.Status == session.StatusSuperseded {
		status = http.StatusConflict
	}
	respond(w, r, status, newPrepareResponse(sess.ID(), res))
}

// handleAudio handles GET /v1/sessions/{id}/audio/{side} and returns the
// side's current trimmed recording as 16-bit WAV.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	side, err := parseSide(r.PathValue("side"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	sess.Touch()
	sr, ok := sess.Current(side)
	if !ok {
		respondError(w, r, fmt.Errorf("%w: %s", session.ErrNoRecording, side))
		return
	}

	tr := sr.Output.Trim
	data, err := audio.WAVBytes(tr.Buffer)
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Trim-Offset", strconv.Itoa(tr.Offset))
	w.Header().Set("X-Original-Length", strconv.Itoa(tr.OriginalLen))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// readPart returns the contents of the named file part, or nil when the form
// has no such part.
func readPart(r *http.Request, name string) ([]byte, error) {
	f, _, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", errBadRequest, name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", errBadRequest, name, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// requestConfig merges the first JSON override document onto the manager
// defaults. Validation is left to the session.
func (s *Server) requestConfig(values []string) (pipeline.Config, error) {
	base := s.manager.Defaults()
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return base, nil
	}
	o, err := decodeOverrides([]byte(values[0]))
	if err != nil {
		return pipeline.Config{}, err
	}
	return base.Merge(o), nil
}

func decodeOverrides(data []byte) (pipeline.Overrides, error) {
	var o pipeline.Overrides
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return pipeline.Overrides{}, fmt.Errorf("%w: config overrides: %w", errBadRequest, err)
	}
	return o, nil
}

func parseSide(v string) (types.Side, error) {
	side := types.Side(v)
	if !side.IsValid() {
		return "", fmt.Errorf("%w: unknown side %q", errBadRequest, v)
	}
	return side, nil
}
