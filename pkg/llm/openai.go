package llm

import (
	"context"
	"strings"

	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine talks to any OpenAI-compatible chat completion endpoint.
type OpenAIEngine struct {
	settings *Settings
	client   *go_openai.Client
}

var _ Engine = (*OpenAIEngine)(nil)

func NewOpenAIEngine(settings *Settings) (*OpenAIEngine, error) {
	if settings == nil {
		return nil, errors.New("no llm settings")
	}
	if settings.APIKey == "" {
		return nil, errors.New("no API key for openai-compatible endpoint")
	}
	if settings.Model == "" {
		return nil, errors.New("no model specified")
	}

	config := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		err := ValidateBaseURL(settings.BaseURL, BaseURLOptions{
			AllowHTTP:          !settings.RestrictBaseURL,
			AllowLocalNetworks: !settings.RestrictBaseURL,
		})
		if err != nil {
			return nil, err
		}
		config.BaseURL = settings.BaseURL
	}

	return &OpenAIEngine{
		settings: settings.Clone(),
		client:   go_openai.NewClientWithConfig(config),
	}, nil
}

func (e *OpenAIEngine) Complete(ctx context.Context, messages []conversation.Message) (string, error) {
	req := MakeCompletionRequest(e.settings, messages)

	log.Debug().
		Str("model", req.Model).
		Int("num_messages", len(req.Messages)).
		Msg("OpenAI completion started")

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", Classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", Malformed("response has no choices")
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", Malformed("response content is empty (finish reason %q)", resp.Choices[0].FinishReason)
	}

	log.Debug().
		Str("model", resp.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("OpenAI completion finished")

	return content, nil
}

// MakeCompletionRequest builds the chat completion request for a transcript.
func MakeCompletionRequest(settings *Settings, messages []conversation.Message) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    WireRole(m.Role),
			Content: m.Text,
		})
	}

	req := go_openai.ChatCompletionRequest{
		Model:     settings.Model,
		Messages:  msgs,
		MaxTokens: settings.MaxTokens,
	}
	if settings.Temperature != nil {
		req.Temperature = *settings.Temperature
	}
	return req
}
