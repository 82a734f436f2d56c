package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/persona/pkg/events"
	"github.com/go-go-golems/persona/pkg/llm"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/go-go-golems/persona/pkg/store"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url    string
	engine *llm.ScriptedEngine
}

func newTestServer(t *testing.T, engine *llm.ScriptedEngine) *testServer {
	t.Helper()

	router, err := events.NewEventRouter()
	require.NoError(t, err)

	stores := store.NewInMemoryStores()
	m := session.NewManager(stores.Characters, stores.Chats,
		session.NewFetcher(engine, time.Second),
		session.WithPublisher(router.Publisher),
	)
	loop := session.NewLoop(m)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()

	srv := httptest.NewServer(New(loop, router).Echo())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-loop.Stopped()
		_ = router.Close()
	})

	return &testServer{url: srv.URL, engine: engine}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.url+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (ts *testServer) transcript(t *testing.T) TranscriptResponse {
	t.Helper()
	resp, body := ts.do(t, http.MethodGet, "/api/transcript", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr TranscriptResponse
	require.NoError(t, json.Unmarshal(body, &tr))
	return tr
}

func TestTranscriptStartsWithDefaultPersona(t *testing.T) {
	ts := newTestServer(t, llm.NewScriptedEngine())

	tr := ts.transcript(t)
	require.Len(t, tr.Messages, 2)
	assert.Equal(t, session.DefaultBasePrompt, tr.Messages[0].Text)
	assert.Equal(t, "default", tr.Status.State)
}

func TestPostMessage(t *testing.T) {
	ts := newTestServer(t, llm.NewScriptedEngine().Reply("Hi!"))

	resp, _ := ts.do(t, http.MethodPost, "/api/messages", TextRequest{Text: "   "})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/messages", TextRequest{Text: "Hello"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var mr MessageResponse
	require.NoError(t, json.Unmarshal(body, &mr))
	assert.NotEmpty(t, mr.FetchID)
	require.GreaterOrEqual(t, len(mr.Messages), 3)
	assert.Equal(t, "Hello", mr.Messages[2].Text)

	require.Eventually(t, func() bool {
		return len(ts.transcript(t).Messages) == 4
	}, 2*time.Second, 10*time.Millisecond)
	tr := ts.transcript(t)
	assert.Equal(t, "Hi!", tr.Messages[3].Text)
	assert.False(t, tr.Status.Pending)
}

func TestPostMessageWhilePendingConflicts(t *testing.T) {
	ts := newTestServer(t, llm.NewScriptedEngine().Reply("slow").Gated())

	resp, _ := ts.do(t, http.MethodPost, "/api/messages", TextRequest{Text: "Hello"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/messages", TextRequest{Text: "Again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/chats", SaveChatRequest{Title: "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	assert.Len(t, ts.transcript(t).Messages, 3)
}

func TestCharactersAndChats(t *testing.T) {
	ts := newTestServer(t, llm.NewScriptedEngine())

	resp, _ := ts.do(t, http.MethodPost, "/api/characters", CharacterRequest{Description: "no title"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/characters", CharacterRequest{Title: "   ", Description: "blank title"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/characters", CharacterRequest{
		Title:          "Pirate",
		Description:    "A salty pirate.",
		InitialMessage: "Ahoy!",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var c store.Character
	require.NoError(t, json.Unmarshal(body, &c))
	assert.NotZero(t, c.ID)

	resp, body = ts.do(t, http.MethodGet, "/api/characters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Pirate")

	resp, _ = ts.do(t, http.MethodPost, "/api/characters/999/bind", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/characters/abc/bind", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/characters/%d/bind", c.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr TranscriptResponse
	require.NoError(t, json.Unmarshal(body, &tr))
	require.Len(t, tr.Messages, 2)
	assert.True(t, strings.HasSuffix(tr.Messages[0].Text, "A salty pirate."))
	assert.Equal(t, "Ahoy!", tr.Messages[1].Text)

	resp, body = ts.do(t, http.MethodPost, "/api/chats", SaveChatRequest{Title: "Voyage"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var saved store.SavedChat
	require.NoError(t, json.Unmarshal(body, &saved))
	require.NotNil(t, saved.CharacterID)
	assert.Equal(t, c.ID, *saved.CharacterID)

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/chats?character_id=%d", c.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Chats []store.SavedChat `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Chats, 1)
	assert.Equal(t, "Voyage", listed.Chats[0].Title)

	resp, body = ts.do(t, http.MethodGet, "/api/chats?character_id=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Empty(t, listed.Chats)

	resp, _ = ts.do(t, http.MethodPut, "/api/system-prompt", TextRequest{Text: "changed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, fmt.Sprintf("/api/chats/%d/restore", saved.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &tr))
	assert.True(t, strings.HasSuffix(tr.Messages[0].Text, "A salty pirate."))
	assert.Equal(t, "restored-chat", tr.Status.State)

	resp, _ = ts.do(t, http.MethodPost, "/api/chats/42/restore", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateHeadSlots(t *testing.T) {
	ts := newTestServer(t, llm.NewScriptedEngine())

	resp, _ := ts.do(t, http.MethodPut, "/api/system-prompt", TextRequest{Text: " "})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPut, "/api/system-prompt", TextRequest{Text: "You are a cat."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var nr NoticeResponse
	require.NoError(t, json.Unmarshal(body, &nr))
	assert.Equal(t, session.NoticeSystemPromptUpdated, nr.Notice)
	assert.Equal(t, "You are a cat.", nr.Messages[0].Text)

	resp, body = ts.do(t, http.MethodPut, "/api/opening-message", TextRequest{Text: "Meow."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &nr))
	assert.Equal(t, session.NoticeOpeningMessageUpdated, nr.Notice)
	assert.Equal(t, "Meow.", nr.Messages[1].Text)

	resp, body = ts.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st session.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, 2, st.Length)
}

func TestWebSocketStreamsTranscriptEvents(t *testing.T) {
	ts := newTestServer(t, llm.NewScriptedEngine().Reply("Hi!"))

	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() *events.TranscriptEvent {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		e, err := events.NewTranscriptEventFromJSON(b)
		require.NoError(t, err)
		return e
	}

	first := read()
	assert.Equal(t, events.EventTypeReset, first.Type)
	assert.Len(t, first.Messages, 2)

	resp, _ := ts.do(t, http.MethodPost, "/api/messages", TextRequest{Text: "Hello"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	for {
		e := read()
		if e.Type == events.EventTypeFetchDone {
			require.Len(t, e.Messages, 4)
			assert.Equal(t, "Hi!", e.Messages[3].Text)
			assert.False(t, e.Pending)
			return
		}
	}
}

func TestWebSocketConnectWhileTranscriptChanges(t *testing.T) {
	ts := newTestServer(t, llm.NewScriptedEngine())
	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/ws"
	client := &http.Client{Timeout: 2 * time.Second}

	put := func(text string) error {
		b, err := json.Marshal(TextRequest{Text: text})
		if err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodPut, ts.url+"/api/system-prompt", bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}

	done := make(chan struct{})
	writerErr := make(chan error, 1)
	go func() {
		defer close(writerErr)
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if err := put(fmt.Sprintf("prompt %d", i)); err != nil {
				writerErr <- err
				return
			}
		}
	}()

	for i := 0; i < 25; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		e, err := events.NewTranscriptEventFromJSON(b)
		require.NoError(t, err)
		assert.Equal(t, events.EventTypeReset, e.Type)
		_ = conn.Close()
	}

	close(done)
	require.NoError(t, <-writerErr)

	resp, err := client.Get(ts.url + "/api/transcript")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
