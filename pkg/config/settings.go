// Package config decodes persona's settings from viper.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-go-golems/persona/pkg/llm"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/go-go-golems/persona/pkg/store"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "persona"

type PersonaSettings struct {
	BasePrompt     string `mapstructure:"base-prompt" yaml:"base-prompt"`
	OpeningMessage string `mapstructure:"opening-message" yaml:"opening-message"`
	User           string `mapstructure:"user" yaml:"user,omitempty"`
	MarkdownStyle  string `mapstructure:"markdown-style" yaml:"markdown-style,omitempty"`
}

type ServerSettings struct {
	Address string `mapstructure:"address" yaml:"address"`
}

type Settings struct {
	Store   store.Settings  `mapstructure:"store" yaml:"store"`
	LLM     llm.Settings    `mapstructure:"llm" yaml:"llm"`
	Persona PersonaSettings `mapstructure:"persona" yaml:"persona"`
	Server  ServerSettings  `mapstructure:"server" yaml:"server"`
}

// SetDefaults registers every key with its default, which also makes the
// keys visible to AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	llmDefaults := llm.NewSettings()

	v.SetDefault("store.backend", store.BackendJSON)
	v.SetDefault("store.dir", ".")
	v.SetDefault("store.dsn", "")

	v.SetDefault("llm.provider", llmDefaults.Provider)
	v.SetDefault("llm.model", llmDefaults.Model)
	v.SetDefault("llm.base-url", llmDefaults.BaseURL)
	v.SetDefault("llm.api-key", "")
	v.SetDefault("llm.timeout", llmDefaults.Timeout)
	v.SetDefault("llm.max-tokens", 0)
	v.SetDefault("llm.restrict-base-url", false)

	v.SetDefault("persona.base-prompt", session.DefaultBasePrompt)
	v.SetDefault("persona.opening-message", session.DefaultOpeningMessage)
	v.SetDefault("persona.user", "")
	v.SetDefault("persona.markdown-style", "dark")

	v.SetDefault("server.address", "localhost:8080")
}

// ConfigureViper sets up env binding and config file lookup on v. An empty
// configFile searches ., $HOME/.persona and the XDG config dir for
// config.yaml.
func ConfigureViper(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.persona")
		if xdg, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(xdg, "persona"))
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	return err
}

// Load decodes v into Settings. An unset llm.api-key falls back to
// OPENAI_API_KEY.
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if s.LLM.APIKey == "" {
		s.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v.IsSet("llm.temperature") {
		t := float32(v.GetFloat64("llm.temperature"))
		s.LLM.Temperature = &t
	}
	return &s, nil
}

// YAML renders the settings with secrets left out.
func (s *Settings) YAML() (string, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
