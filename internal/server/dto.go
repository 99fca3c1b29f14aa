package server

import (
	"time"

	"github.com/MrWong99/shadowalign/internal/session"
	"github.com/MrWong99/shadowalign/pkg/align"
	"github.com/MrWong99/shadowalign/pkg/pipeline"
	"github.com/MrWong99/shadowalign/pkg/vad"
)

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// segmentResponse is a speech segment in original-buffer samples and in
// milliseconds.
type segmentResponse struct {
	Start   int   `json:"start"`
	End     int   `json:"end"`
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

type sideResponse struct {
	Status     session.Status `json:"status"`
	Error      *errorDetail   `json:"error,omitempty"`
	Cached     bool           `json:"cached"`
	Generation uint64         `json:"generation"`
	Engine     string         `json:"engine,omitempty"`

	Codec              string            `json:"codec,omitempty"`
	SampleRate         int               `json:"sample_rate,omitempty"`
	OriginalLen        int               `json:"original_len,omitempty"`
	OriginalDurationMs int64             `json:"original_duration_ms,omitempty"`
	Offset             int               `json:"offset"`
	TrimmedLen         int               `json:"trimmed_len,omitempty"`
	TrimmedDurationMs  int64             `json:"trimmed_duration_ms,omitempty"`
	Segments           []segmentResponse `json:"segments,omitempty"`
	ElapsedMs          int64             `json:"elapsed_ms,omitempty"`
}

type alignmentResponse struct {
	Status  session.AlignStatus `json:"status"`
	Mapping *align.Mapping      `json:"mapping,omitempty"`
	Error   *errorDetail        `json:"error,omitempty"`
}

type prepareResponse struct {
	SessionID string            `json:"session_id"`
	Target    sideResponse      `json:"target"`
	Attempt   sideResponse      `json:"attempt"`
	Alignment alignmentResponse `json:"alignment"`
	Config    pipeline.Config   `json:"config"`
}

func newSideResponse(sr session.SideResult) sideResponse {
	out := sideResponse{
		Status:     sr.Status,
		Error:      newErrorDetail(sr.Err),
		Cached:     sr.Cached,
		Generation: sr.Generation,
		Engine:     sr.Engine,
	}
	if sr.Status != session.StatusOK {
		return out
	}

	tr := sr.Output.Trim
	rate := tr.Buffer.SampleRate
	out.Codec = string(sr.Output.Codec)
	out.SampleRate = rate
	out.OriginalLen = tr.OriginalLen
	out.OriginalDurationMs = tr.OriginalDuration.Milliseconds()
	out.Offset = tr.Offset
	out.TrimmedLen = tr.Buffer.Len()
	out.TrimmedDurationMs = tr.Buffer.Duration().Milliseconds()
	out.ElapsedMs = sr.Output.Elapsed.Milliseconds()
	out.Segments = make([]segmentResponse, len(tr.Segments))
	for i, seg := range tr.Segments {
		out.Segments[i] = newSegmentResponse(seg, rate)
	}
	return out
}

func newSegmentResponse(seg vad.Segment, rate int) segmentResponse {
	sr := segmentResponse{Start: seg.Start, End: seg.End}
	if rate > 0 {
		sr.StartMs = int64(seg.Start) * 1000 / int64(rate)
		sr.EndMs = int64(seg.End) * 1000 / int64(rate)
	}
	return sr
}

func newPrepareResponse(id string, res *session.Result) prepareResponse {
	return prepareResponse{
		SessionID: id,
		Target:    newSideResponse(res.Target),
		Attempt:   newSideResponse(res.Attempt),
		Alignment: alignmentResponse{
			Status:  res.AlignStatus,
			Mapping: res.Mapping,
			Error:   newErrorDetail(res.AlignErr),
		},
		Config: res.Config,
	}
}
