// Package tts implements synchronous speech synthesis on top of a pluggable engine.
package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrEmptyText         = errors.New("text is required")
	ErrInvalidRequest    = errors.New("invalid synthesis request")
	ErrEngineUnavailable = errors.New("tts engine unavailable")
	ErrSynthesisTimeout  = errors.New("tts synthesis timeout")
	ErrSynthesisFailed   = errors.New("tts synthesis failed")
)

const (
	// EmotionDims is the length of an emotion vector.
	EmotionDims     = 8
	defaultEmoAlpha = 0.8
)

// Request is one synthesis call. Field names follow the upstream wire format.
type Request struct {
	Text           string    `json:"text"`
	SpkAudioPrompt string    `json:"spk_audio_prompt,omitempty"`
	EmoAudioPrompt string    `json:"emo_audio_prompt,omitempty"`
	EmoVector      []float64 `json:"emo_vector,omitempty"`
	EmoAlpha       *float64  `json:"emo_alpha,omitempty"`
	UseRandom      bool      `json:"use_random,omitempty"`
	UseEmoText     bool      `json:"use_emo_text,omitempty"`
	EmoText        string    `json:"emo_text,omitempty"`
}

// Audio is synthesized speech.
type Audio struct {
	Data        []byte
	ContentType string
}

// Synthesizer is a speech engine.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}

// Voice describes a selectable speaker.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

var voices = []Voice{
	{ID: "default", Name: "Default", Language: "zh"},
	{ID: "male-1", Name: "Male 1", Language: "zh"},
	{ID: "female-1", Name: "Female 1", Language: "zh"},
	{ID: "en-male-1", Name: "English Male 1", Language: "en"},
}

// Service validates requests and runs them against an engine with a deadline.
type Service struct {
	engine  Synthesizer
	timeout time.Duration
}

// NewService creates a new Service.
func NewService(engine Synthesizer, timeout time.Duration) *Service {
	return &Service{engine: engine, timeout: timeout}
}

// Engine returns the engine name.
func (s *Service) Engine() string { return s.engine.Name() }

// Voices returns the available voices.
func (s *Service) Voices() []Voice {
	return append([]Voice(nil), voices...)
}

// Synthesize validates req, applies defaults and calls the engine.
func (s *Service) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	synthCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	audio, err := s.engine.Synthesize(synthCtx, req)
	if err != nil {
		if errors.Is(synthCtx.Err(), context.DeadlineExceeded) || errors.Is(err, ErrSynthesisTimeout) {
			return nil, fmt.Errorf("%w after %s", ErrSynthesisTimeout, s.timeout)
		}
		if errors.Is(err, ErrEngineUnavailable) || errors.Is(err, ErrSynthesisFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	slog.Info("speech synthesized",
		"engine", s.engine.Name(), "chars", len([]rune(req.Text)),
		"bytes", len(audio.Data), "duration_ms", time.Since(start).Milliseconds())
	return audio, nil
}

func validate(req *Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	if n := len(req.EmoVector); n != 0 && n != EmotionDims {
		return fmt.Errorf("%w: emo_vector must have %d values, got %d", ErrInvalidRequest, EmotionDims, n)
	}
	for i, v := range req.EmoVector {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: emo_vector[%d] must be within [0, 1], got %g", ErrInvalidRequest, i, v)
		}
	}
	if req.EmoAlpha == nil {
		alpha := defaultEmoAlpha
		req.EmoAlpha = &alpha
	} else if *req.EmoAlpha < 0 || *req.EmoAlpha > 1 {
		return fmt.Errorf("%w: emo_alpha must be within [0, 1], got %g", ErrInvalidRequest, *req.EmoAlpha)
	}
	return nil
}
