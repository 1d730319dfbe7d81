package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/mediaforge/internal/api/response"
	"github.com/kiranshivaraju/mediaforge/internal/tts"
	"github.com/kiranshivaraju/mediaforge/pkg/models"
)

const maxTTSBodyBytes = 1 << 20

// Synthesizer defines the interface the TTS handlers depend on.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error)
	Voices() []tts.Voice
}

// NewTTSHandler returns an http.HandlerFunc for POST /api/v1/tts.
func NewTTSHandler(svc Synthesizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tts.Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTTSBodyBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "invalid request", "body must be a JSON object")
			return
		}

		audio, err := svc.Synthesize(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, tts.ErrEmptyText):
				response.Error(w, http.StatusBadRequest, "text is required", err.Error())
			case errors.Is(err, tts.ErrInvalidRequest):
				response.Error(w, http.StatusBadRequest, "invalid request", err.Error())
			case errors.Is(err, tts.ErrSynthesisTimeout):
				response.Error(w, http.StatusGatewayTimeout, "synthesis timeout", err.Error())
			default:
				slog.Error("synthesizing speech", "error", err)
				response.Error(w, http.StatusInternalServerError, "synthesis failed", err.Error())
			}
			return
		}

		w.Header().Set("Content-Type", audio.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
		w.WriteHeader(http.StatusOK)
		w.Write(audio.Data)
	}
}

// NewVoicesHandler returns an http.HandlerFunc for GET /api/v1/voices.
func NewVoicesHandler(svc Synthesizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := svc.Voices()
		out := models.VoicesResponse{Voices: make([]models.Voice, 0, len(list))}
		for _, v := range list {
			out.Voices = append(out.Voices, models.Voice{ID: v.ID, Name: v.Name, Language: v.Language})
		}
		response.OK(w, out)
	}
}
