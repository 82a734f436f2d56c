package main

import (
	"context"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/persona/pkg/config"
	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/go-go-golems/persona/pkg/llm"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/go-go-golems/persona/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// sessionFlags are shared by chat and serve.
type sessionFlags struct {
	load      string
	character int64
	restore   int64
	ephemeral bool
	vars      map[string]string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.load, "load", "", "Start from a transcript file (.json or .yaml)")
	cmd.Flags().Int64Var(&f.character, "character", 0, "Bind this character id on startup")
	cmd.Flags().Int64Var(&f.restore, "restore", 0, "Restore this saved chat id on startup")
	cmd.Flags().BoolVar(&f.ephemeral, "ephemeral", false, "Keep characters and chats in memory only")
	cmd.Flags().StringToStringVar(&f.vars, "var", nil, "Variables for the base prompt template (key=value)")
}

func (f *sessionFlags) validate() error {
	set := 0
	for _, b := range []bool{f.load != "", f.character != 0, f.restore != 0} {
		if b {
			set++
		}
	}
	if set > 1 {
		return errors.New("--load, --character and --restore are mutually exclusive")
	}
	return nil
}

func loadSettings(ephemeral bool) (*config.Settings, error) {
	s, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if ephemeral {
		s.Store.Backend = store.BackendMemory
	}
	return s, nil
}

func openStores(ctx context.Context, s *config.Settings) (*store.Stores, error) {
	stores, err := store.Open(ctx, s.Store)
	if err != nil {
		return nil, errors.Wrap(err, "could not open stores")
	}
	return stores, nil
}

// newManager builds the session manager with the configured engine and base
// prompt, and applies the startup flags.
func newManager(
	ctx context.Context,
	s *config.Settings,
	stores *store.Stores,
	flags *sessionFlags,
	publisher message.Publisher,
) (*session.Manager, error) {
	engine, err := llm.NewEngine(&s.LLM)
	if err != nil {
		return nil, err
	}

	user := s.Persona.User
	if user == "" {
		user = os.Getenv("USER")
	}
	basePrompt, err := session.RenderBasePrompt(s.Persona.BasePrompt, session.PromptData{
		User: user,
		Vars: flags.vars,
	})
	if err != nil {
		return nil, err
	}

	options := []session.ManagerOption{
		session.WithBasePrompt(basePrompt),
		session.WithOpeningMessage(s.Persona.OpeningMessage),
	}
	if publisher != nil {
		options = append(options, session.WithPublisher(publisher))
	}
	if flags.load != "" {
		c, err := conversation.LoadFromFile(flags.load)
		if err != nil {
			return nil, err
		}
		options = append(options, session.WithConversation(c))
	}

	m := session.NewManager(
		stores.Characters,
		stores.Chats,
		session.NewFetcher(engine, s.LLM.EffectiveTimeout()),
		options...,
	)

	switch {
	case flags.character != 0:
		err = m.BindCharacter(ctx, flags.character)
	case flags.restore != 0:
		err = m.RestoreChat(ctx, flags.restore)
	}
	if err != nil {
		m.Close()
		return nil, err
	}

	log.Debug().
		Str("session_id", m.ID()).
		Str("state", m.State().String()).
		Str("provider", s.LLM.Provider).
		Msg("Session ready")
	return m, nil
}
