package producer

import (
	"fmt"

	"github.com/kiranshivaraju/mediaforge/internal/config"
)

// New constructs the producer selected by config.
// Called once at server startup.
func New(cfg config.ProducerConfig) (Producer, error) {
	switch cfg.Kind {
	case "ffmpeg":
		return NewFFmpeg(cfg), nil
	case "stub":
		return NewStub(cfg.StubDelay), nil
	default:
		return nil, fmt.Errorf("unknown producer %q: must be one of ffmpeg, stub", cfg.Kind)
	}
}
