package tts

import (
	"fmt"

	"github.com/kiranshivaraju/mediaforge/internal/config"
)

// NewEngine constructs the synthesis engine selected by config.
// Called once at server startup.
func NewEngine(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Engine {
	case "sine":
		return Sine{}, nil
	case "http":
		return NewHTTPEngine(cfg.UpstreamURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown tts engine %q: must be one of sine, http", cfg.Engine)
	}
}
