package llm

import (
	"fmt"

	"github.com/vetlab/bloodwork-analyzer/internal/config"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
)

// New returns the vision client selected by cfg.Driver.
func New(cfg config.VisionConfig, logger *observability.Logger) (domain.VisionClient, error) {
	switch cfg.Driver {
	case "inference", "":
		return NewInferenceClient(cfg.Endpoint, cfg.Model, cfg.Timeout, logger), nil
	case "openai":
		return NewClient(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Timeout, logger), nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported vision driver %q", cfg.Driver), nil)
	}
}
