package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/go-go-golems/persona/pkg/store"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type TranscriptResponse struct {
	Messages []conversation.Message `json:"messages"`
	Status   session.Status         `json:"status"`
}

type TextRequest struct {
	Text string `json:"text"`
}

type MessageResponse struct {
	FetchID string `json:"fetch_id"`
	TranscriptResponse
}

type SaveChatRequest struct {
	Title string `json:"title"`
}

type CharacterRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	InitialMessage string `json:"initial_message"`
}

type NoticeResponse struct {
	Notice string `json:"notice"`
	TranscriptResponse
}

type errorResponse struct {
	Error string `json:"error"`
}

func transcriptOf(m *session.Manager) TranscriptResponse {
	return TranscriptResponse{
		Messages: m.Transcript().Messages(),
		Status:   m.Status(),
	}
}

func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrFetchPending):
		status = http.StatusConflict
	case errors.Is(err, session.ErrLoopStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrCharacterTitleRequired):
		status = http.StatusBadRequest
	default:
		log.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("Request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func pathID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil
}

// GetTranscript returns the full transcript.
// GET /api/transcript
func (s *Server) GetTranscript(c echo.Context) error {
	var resp TranscriptResponse
	err := s.loop.Do(c.Request().Context(), func(_ context.Context, m *session.Manager) error {
		resp = transcriptOf(m)
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /api/status
func (s *Server) GetStatus(c echo.Context) error {
	var st session.Status
	err := s.loop.Do(c.Request().Context(), func(_ context.Context, m *session.Manager) error {
		st = m.Status()
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// PostMessage submits a human message. The reply arrives later, through
// /ws or by polling the transcript.
// POST /api/messages
func (s *Server) PostMessage(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var resp MessageResponse
	var started bool
	err := s.loop.Do(c.Request().Context(), func(loopCtx context.Context, m *session.Manager) error {
		h, err := m.SubmitHumanMessage(loopCtx, req.Text)
		if err != nil {
			return err
		}
		if h != nil {
			started = true
			resp.FetchID = h.ID
		}
		resp.TranscriptResponse = transcriptOf(m)
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	if !started {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// GET /api/characters
func (s *Server) ListCharacters(c echo.Context) error {
	var chars []store.Character
	err := s.loop.Do(c.Request().Context(), func(ctx context.Context, m *session.Manager) error {
		var err error
		chars, err = m.ListCharacters(ctx)
		return err
	})
	if err != nil {
		return writeError(c, err)
	}
	if chars == nil {
		chars = []store.Character{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"characters": chars})
}

// POST /api/characters
func (s *Server) CreateCharacter(c echo.Context) error {
	var req CharacterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Title == "" {
		return badRequest(c, "title is required")
	}

	var created store.Character
	err := s.loop.Do(c.Request().Context(), func(ctx context.Context, m *session.Manager) error {
		var err error
		created, err = m.CreateCharacter(ctx, req.Title, req.Description, req.InitialMessage)
		return err
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// POST /api/characters/:id/bind
func (s *Server) BindCharacter(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid character id")
	}

	var resp TranscriptResponse
	err := s.loop.Do(c.Request().Context(), func(ctx context.Context, m *session.Manager) error {
		if err := m.BindCharacter(ctx, id); err != nil {
			return err
		}
		resp = transcriptOf(m)
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListChats lists saved chats, filtered by ?character_id= when given.
// GET /api/chats
func (s *Server) ListChats(c echo.Context) error {
	var filter *int64
	if raw := c.QueryParam("character_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return badRequest(c, "invalid character_id")
		}
		filter = &id
	}

	var chats []store.SavedChat
	err := s.loop.Do(c.Request().Context(), func(ctx context.Context, m *session.Manager) error {
		var err error
		chats, err = m.ListChats(ctx, filter)
		return err
	})
	if err != nil {
		return writeError(c, err)
	}
	if chats == nil {
		chats = []store.SavedChat{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"chats": chats})
}

// POST /api/chats
func (s *Server) SaveChat(c echo.Context) error {
	var req SaveChatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var saved store.SavedChat
	err := s.loop.Do(c.Request().Context(), func(ctx context.Context, m *session.Manager) error {
		var err error
		saved, err = m.SaveCurrent(ctx, req.Title)
		return err
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, saved)
}

// POST /api/chats/:id/restore
func (s *Server) RestoreChat(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid chat id")
	}

	var resp TranscriptResponse
	err := s.loop.Do(c.Request().Context(), func(ctx context.Context, m *session.Manager) error {
		if err := m.RestoreChat(ctx, id); err != nil {
			return err
		}
		resp = transcriptOf(m)
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// PUT /api/system-prompt
func (s *Server) UpdateSystemPrompt(c echo.Context) error {
	return s.updateHeadSlot(c, session.NoticeSystemPromptUpdated, (*session.Manager).UpdateSystemPrompt)
}

// PUT /api/opening-message
func (s *Server) UpdateOpeningMessage(c echo.Context) error {
	return s.updateHeadSlot(c, session.NoticeOpeningMessageUpdated, (*session.Manager).UpdateOpeningMessage)
}

func (s *Server) updateHeadSlot(c echo.Context, notice string, update func(*session.Manager, string) bool) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var resp NoticeResponse
	var applied bool
	err := s.loop.Do(c.Request().Context(), func(_ context.Context, m *session.Manager) error {
		applied = update(m, req.Text)
		resp.TranscriptResponse = transcriptOf(m)
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	if !applied {
		return c.NoContent(http.StatusNoContent)
	}
	resp.Notice = notice
	return c.JSON(http.StatusOK, resp)
}
