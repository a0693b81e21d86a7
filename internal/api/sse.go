package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/VanshDeo/OpenQuest/internal/apperr"
)

// sseSink frames pipeline events as server-sent events, one flush per
// event so tokens reach the client as they stream.
type sseSink struct {
	w       io.Writer
	flusher http.Flusher
}

func (s *sseSink) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "marshal sse payload")
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return apperr.Wrap(apperr.Internal, err, "write sse event")
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	req, err := decodeRAGRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, apperr.New(apperr.Internal, "streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// No deadline here: the stream runs as long as generation does, and
	// a departing client cancels r.Context().
	sink := &sseSink{w: w, flusher: flusher}
	if _, err := s.Pipeline.Run(r.Context(), req.Query, s.options(req), sink); err != nil {
		// The run already framed its terminal error event; a sink write
		// failure means the client is gone and there is nobody to tell.
		hlog.FromRequest(r).Warn().Err(err).Str("repo_id", req.RepoID).Msg("pipeline stream ended with error")
		return
	}
	hlog.FromRequest(r).Info().Str("repo_id", req.RepoID).Msg("pipeline stream served")
}
