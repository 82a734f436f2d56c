package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OllamaEngine runs completions against a local Ollama server. The server
// address comes from OLLAMA_HOST.
type OllamaEngine struct {
	settings *Settings
	client   *api.Client
}

var _ Engine = (*OllamaEngine)(nil)

func NewOllamaEngine(settings *Settings) (*OllamaEngine, error) {
	if settings == nil {
		return nil, errors.New("no llm settings")
	}
	if settings.Model == "" {
		return nil, errors.New("no model specified")
	}
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "could not create ollama client")
	}
	return &OllamaEngine{
		settings: settings.Clone(),
		client:   client,
	}, nil
}

func (e *OllamaEngine) Complete(ctx context.Context, messages []conversation.Message) (string, error) {
	ollamaMessages := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		ollamaMessages = append(ollamaMessages, api.Message{
			Role:    WireRole(m.Role),
			Content: m.Text,
		})
	}

	options := map[string]interface{}{}
	if e.settings.Temperature != nil {
		options["temperature"] = *e.settings.Temperature
	}
	if e.settings.MaxTokens > 0 {
		options["num_predict"] = e.settings.MaxTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    e.settings.Model,
		Messages: ollamaMessages,
		Stream:   &stream,
		Options:  options,
	}

	log.Debug().Str("model", req.Model).Int("num_messages", len(ollamaMessages)).Msg("Ollama chat started")

	var reply strings.Builder
	err := e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		text, err := chunkContent(resp)
		if err != nil {
			return err
		}
		reply.WriteString(text)
		return nil
	})
	if err != nil {
		return "", Classify(err)
	}

	if strings.TrimSpace(reply.String()) == "" {
		return "", Malformed("ollama returned an empty reply")
	}
	return reply.String(), nil
}

// chunkContent extracts the message text of a chat response chunk.
func chunkContent(resp api.ChatResponse) (string, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return "", Malformed("could not re-encode ollama chunk: %v", err)
	}
	var chunk struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(b, &chunk); err != nil {
		return "", Malformed("could not decode ollama chunk: %v", err)
	}
	return chunk.Message.Content, nil
}
