package llm

import (
	"time"

	"github.com/huandu/go-clone"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderEcho   = "echo"

	DefaultBaseURL = "https://api.featherless.ai/v1"
	DefaultModel   = "mistralai/Mistral-Nemo-Instruct-2407"
	DefaultTimeout = 60 * time.Second
)

type Settings struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	BaseURL     string        `mapstructure:"base-url" yaml:"base-url"`
	APIKey      string        `mapstructure:"api-key" yaml:"-"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature *float32      `mapstructure:"temperature" yaml:"temperature,omitempty"`
	MaxTokens   int           `mapstructure:"max-tokens" yaml:"max-tokens,omitempty"`
	// RestrictBaseURL rejects plain http and local network base URLs.
	RestrictBaseURL bool `mapstructure:"restrict-base-url" yaml:"restrict-base-url,omitempty"`
}

func NewSettings() *Settings {
	return &Settings{
		Provider: ProviderOpenAI,
		Model:    DefaultModel,
		BaseURL:  DefaultBaseURL,
		Timeout:  DefaultTimeout,
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// EffectiveTimeout falls back to DefaultTimeout for unset or negative values.
func (s *Settings) EffectiveTimeout() time.Duration {
	if s == nil || s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}
