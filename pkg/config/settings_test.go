package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/persona/pkg/llm"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	v := viper.New()
	SetDefaults(v)

	s, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "json", s.Store.Backend)
	assert.Equal(t, ".", s.Store.Dir)
	assert.Equal(t, llm.ProviderOpenAI, s.LLM.Provider)
	assert.Equal(t, llm.DefaultModel, s.LLM.Model)
	assert.Equal(t, llm.DefaultBaseURL, s.LLM.BaseURL)
	assert.Equal(t, 60*time.Second, s.LLM.Timeout)
	assert.Nil(t, s.LLM.Temperature)
	assert.Equal(t, session.DefaultBasePrompt, s.Persona.BasePrompt)
	assert.Equal(t, session.DefaultOpeningMessage, s.Persona.OpeningMessage)
}

func TestLoadFromConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: sqlite
  dir: /tmp/persona
llm:
  provider: ollama
  model: llama3
  timeout: 5s
  temperature: 0.5
persona:
  base-prompt: You are {{ .User }}'s friend.
`), 0o644))

	t.Setenv("PERSONA_LLM_MODEL", "mistral")
	t.Setenv("PERSONA_LLM_API_KEY", "secret")

	v := viper.New()
	require.NoError(t, ConfigureViper(v, path))
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", s.Store.Backend)
	assert.Equal(t, "/tmp/persona", s.Store.Dir)
	assert.Equal(t, "ollama", s.LLM.Provider)
	assert.Equal(t, "mistral", s.LLM.Model)
	assert.Equal(t, "secret", s.LLM.APIKey)
	assert.Equal(t, 5*time.Second, s.LLM.Timeout)
	require.NotNil(t, s.LLM.Temperature)
	assert.InDelta(t, 0.5, *s.LLM.Temperature, 1e-6)
	assert.Equal(t, "You are {{ .User }}'s friend.", s.Persona.BasePrompt)

	out, err := s.YAML()
	require.NoError(t, err)
	assert.NotContains(t, out, "secret")
}

func TestConfigureViperWithoutConfigFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	v := viper.New()
	require.NoError(t, ConfigureViper(v, ""))
}
