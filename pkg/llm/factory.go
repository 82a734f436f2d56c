package llm

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NewEngine builds the engine selected by settings.Provider.
func NewEngine(settings *Settings) (Engine, error) {
	if settings == nil {
		settings = NewSettings()
	}

	log.Debug().
		Str("provider", settings.Provider).
		Str("model", settings.Model).
		Msg("Creating LLM engine")

	switch settings.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIEngine(settings)
	case ProviderOllama:
		return NewOllamaEngine(settings)
	case ProviderEcho:
		return NewEchoEngine(), nil
	default:
		return nil, errors.Errorf("unknown llm provider %q", settings.Provider)
	}
}
