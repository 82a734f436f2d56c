package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transcript() []conversation.Message {
	return conversation.New("You are a pirate.", "Ahoy!").Messages()
}

func withHuman(text string) []conversation.Message {
	c := conversation.New("You are a pirate.", "Ahoy!")
	c.Append(conversation.RoleHuman, text)
	return c.Messages()
}

func TestWireRole(t *testing.T) {
	assert.Equal(t, "system", WireRole(conversation.RoleSystem))
	assert.Equal(t, "assistant", WireRole(conversation.RoleAssistant))
	assert.Equal(t, "user", WireRole(conversation.RoleHuman))
}

func TestClassify(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	var syntaxErr error
	var v map[string]interface{}
	syntaxErr = json.Unmarshal([]byte("{nope"), &v)
	require.Error(t, syntaxErr)

	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"deadline", ctx.Err(), ErrTimeout},
		{"wrapped deadline", errors.Wrap(context.DeadlineExceeded, "calling"), ErrTimeout},
		{"bad json", syntaxErr, ErrMalformedResponse},
		{"other", errors.New("connection refused"), ErrUnreachable},
		{"already classified", Malformed("empty"), ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.Error(t, got)
			assert.ErrorIs(t, got, tt.kind)
			for _, other := range []error{ErrTimeout, ErrMalformedResponse, ErrUnreachable} {
				if other != tt.kind {
					assert.NotErrorIs(t, got, other)
				}
			}
		})
	}

	assert.NoError(t, Classify(nil))
}

func TestEchoEngine(t *testing.T) {
	e := NewEchoEngine()

	reply, err := e.Complete(context.Background(), withHuman("Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply)

	_, err = e.Complete(context.Background(), transcript())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestScriptedEngine(t *testing.T) {
	e := NewScriptedEngine().Reply("one").Fail(errors.New("down"))

	reply, err := e.Complete(context.Background(), withHuman("a"))
	require.NoError(t, err)
	assert.Equal(t, "one", reply)

	_, err = e.Complete(context.Background(), withHuman("b"))
	assert.ErrorIs(t, err, ErrUnreachable)

	_, err = e.Complete(context.Background(), withHuman("c"))
	assert.ErrorIs(t, err, ErrUnreachable)

	calls := e.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "b", calls[1][2].Text)
}

func TestScriptedEngineGateHonorsContext(t *testing.T) {
	e := NewScriptedEngine().Reply("never").Gated()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.Complete(ctx, withHuman("hi"))
	assert.ErrorIs(t, err, ErrTimeout)
}

type recordedRequests struct {
	mu   sync.Mutex
	reqs []map[string]interface{}
}

func (r *recordedRequests) all() []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]interface{}{}, r.reqs...)
}

func newCompletionServer(t *testing.T, status int, body string) (*httptest.Server, *recordedRequests) {
	t.Helper()
	requests := &recordedRequests{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var req map[string]interface{}
		_ = json.Unmarshal(b, &req)
		requests.mu.Lock()
		requests.reqs = append(requests.reqs, req)
		requests.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func openAISettings(url string) *Settings {
	s := NewSettings()
	s.BaseURL = url
	s.APIKey = "test-key"
	return s
}

func TestOpenAIEngineComplete(t *testing.T) {
	srv, requests := newCompletionServer(t, http.StatusOK, `{
		"id": "cmpl-1",
		"object": "chat.completion",
		"model": "mistralai/Mistral-Nemo-Instruct-2407",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "Arr, hello!"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
	}`)

	e, err := NewOpenAIEngine(openAISettings(srv.URL))
	require.NoError(t, err)

	reply, err := e.Complete(context.Background(), withHuman("Hello"))
	require.NoError(t, err)
	assert.Equal(t, "Arr, hello!", reply)

	all := requests.all()
	require.Len(t, all, 1)
	req := all[0]
	assert.Equal(t, DefaultModel, req["model"])
	msgs, ok := req["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 3)
	roles := []string{}
	for _, m := range msgs {
		roles = append(roles, m.(map[string]interface{})["role"].(string))
	}
	assert.Equal(t, []string{"system", "assistant", "user"}, roles)
}

func TestOpenAIEngineEmptyChoicesIsMalformed(t *testing.T) {
	srv, _ := newCompletionServer(t, http.StatusOK, `{"id": "cmpl-2", "choices": []}`)
	e, err := NewOpenAIEngine(openAISettings(srv.URL))
	require.NoError(t, err)

	_, err = e.Complete(context.Background(), withHuman("Hello"))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestOpenAIEngineBlankContentIsMalformed(t *testing.T) {
	srv, _ := newCompletionServer(t, http.StatusOK, `{"choices": [{"index": 0, "message": {"role": "assistant", "content": "  "}}]}`)
	e, err := NewOpenAIEngine(openAISettings(srv.URL))
	require.NoError(t, err)

	_, err = e.Complete(context.Background(), withHuman("Hello"))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestOpenAIEngineServerErrorIsUnreachable(t *testing.T) {
	srv, _ := newCompletionServer(t, http.StatusInternalServerError, `{"error": {"message": "boom", "type": "server_error"}}`)
	e, err := NewOpenAIEngine(openAISettings(srv.URL))
	require.NoError(t, err)

	_, err = e.Complete(context.Background(), withHuman("Hello"))
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestOpenAIEngineClosedServerIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e, err := NewOpenAIEngine(openAISettings(url))
	require.NoError(t, err)

	_, err = e.Complete(context.Background(), withHuman("Hello"))
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestOpenAIEngineRequiresKey(t *testing.T) {
	_, err := NewOpenAIEngine(NewSettings())
	assert.Error(t, err)
}

func TestMakeCompletionRequestAppliesSettings(t *testing.T) {
	s := NewSettings()
	temp := float32(0.7)
	s.Temperature = &temp
	s.MaxTokens = 256

	req := MakeCompletionRequest(s, withHuman("Hello"))
	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, float32(0.7), req.Temperature)
	assert.Equal(t, 256, req.MaxTokens)
	assert.Equal(t, "Hello", req.Messages[2].Content)
}

func TestNewEngine(t *testing.T) {
	s := NewSettings()
	s.Provider = ProviderEcho
	e, err := NewEngine(s)
	require.NoError(t, err)
	assert.IsType(t, &EchoEngine{}, e)

	s.Provider = "carrier-pigeon"
	_, err = NewEngine(s)
	assert.Error(t, err)
}

func TestSettingsClone(t *testing.T) {
	s := NewSettings()
	temp := float32(0.2)
	s.Temperature = &temp

	c := s.Clone()
	*c.Temperature = 0.9
	c.Model = "other"

	assert.Equal(t, float32(0.2), *s.Temperature)
	assert.Equal(t, DefaultModel, s.Model)
	assert.Equal(t, DefaultTimeout, (&Settings{}).EffectiveTimeout())
}

func TestValidateBaseURL(t *testing.T) {
	open := BaseURLOptions{AllowHTTP: true, AllowLocalNetworks: true}
	strict := BaseURLOptions{}

	tests := []struct {
		name string
		url  string
		opts BaseURLOptions
		ok   bool
	}{
		{"https public", "https://api.featherless.ai/v1", strict, true},
		{"http strict", "http://api.example.com/v1", strict, false},
		{"http open", "http://api.example.com/v1", open, true},
		{"localhost strict", "https://localhost:11434", strict, false},
		{"localhost open", "http://localhost:11434", open, true},
		{"private ip strict", "https://10.0.0.3/v1", strict, false},
		{"loopback open", "http://127.0.0.1:8080", open, true},
		{"unspecified", "http://0.0.0.0:8080", open, false},
		{"zoned strict", "https://[fe80::1%25eth0]/", strict, false},
		{"zoned open", "https://[fe80::1%25eth0]/", open, true},
		{"ftp", "ftp://example.com", open, false},
		{"no host", "https:///v1", open, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBaseURL(tt.url, tt.opts)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidBaseURL)
			}
		})
	}
}

func TestNewOpenAIEngineRestrictsBaseURL(t *testing.T) {
	s := NewSettings()
	s.APIKey = "test"
	s.BaseURL = "http://127.0.0.1:9999/v1"

	_, err := NewOpenAIEngine(s)
	require.NoError(t, err)

	s.RestrictBaseURL = true
	_, err = NewOpenAIEngine(s)
	assert.ErrorIs(t, err, ErrInvalidBaseURL)
}
