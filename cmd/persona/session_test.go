package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-go-golems/persona/pkg/config"
	"github.com/go-go-golems/persona/pkg/llm"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/go-go-golems/persona/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFlagsAreExclusive(t *testing.T) {
	assert.NoError(t, (&sessionFlags{}).validate())
	assert.NoError(t, (&sessionFlags{character: 1}).validate())
	assert.Error(t, (&sessionFlags{character: 1, restore: 2}).validate())
	assert.Error(t, (&sessionFlags{load: "x.json", character: 1}).validate())
}

func TestWriteStructured(t *testing.T) {
	var buf bytes.Buffer
	done, err := writeStructured(&buf, "text", nil)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = writeStructured(&buf, "json", []store.Character{{ID: 1, Title: "Pirate"}})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Contains(t, buf.String(), `"title": "Pirate"`)

	buf.Reset()
	done, err = writeStructured(&buf, "yaml", []store.Character{{ID: 1, Title: "Pirate"}})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Contains(t, buf.String(), "title: Pirate")

	done, err = writeStructured(&buf, "xml", nil)
	assert.True(t, done)
	assert.Error(t, err)
}

func testSettings() *config.Settings {
	s := &config.Settings{}
	s.LLM = *llm.NewSettings()
	s.LLM.Provider = llm.ProviderEcho
	s.Store.Backend = store.BackendMemory
	s.Persona.BasePrompt = "You talk to {{ .User | default \"someone\" }}."
	s.Persona.OpeningMessage = "Hello."
	s.Persona.User = "sam"
	return s
}

func TestNewManagerRendersBasePrompt(t *testing.T) {
	ctx := context.Background()
	s := testSettings()
	stores, err := openStores(ctx, s)
	require.NoError(t, err)
	defer stores.Close()

	m, err := newManager(ctx, s, stores, &sessionFlags{}, nil)
	require.NoError(t, err)
	defer m.Close()

	first, ok := m.Transcript().At(0)
	require.True(t, ok)
	assert.Equal(t, "You talk to sam.", first.Text)
	assert.Equal(t, session.StateDefault, m.State())
}

func TestNewManagerBindsCharacterOnStartup(t *testing.T) {
	ctx := context.Background()
	s := testSettings()
	stores, err := openStores(ctx, s)
	require.NoError(t, err)
	defer stores.Close()

	require.NoError(t, stores.Characters.Append(ctx, store.Character{
		ID: 7, Title: "Pirate", Description: "Arr.", InitialMessage: "Ahoy!",
	}))

	m, err := newManager(ctx, s, stores, &sessionFlags{character: 7}, nil)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, session.StateCharacterBound, m.State())

	_, err = newManager(ctx, s, stores, &sessionFlags{character: 8}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddCharacterTrimsLikeTheSession(t *testing.T) {
	ctx := context.Background()
	stores := store.NewInMemoryStores()
	t.Cleanup(func() { _ = stores.Close() })

	added, err := addCharacter(ctx, stores.Characters, store.Character{
		Title:          " Pirate ",
		Description:    "  A salty pirate.\n",
		InitialMessage: "\tAhoy!  ",
	})
	require.NoError(t, err)
	assert.NotZero(t, added.ID)

	found, err := stores.Characters.FindByID(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, store.Character{
		ID:             added.ID,
		Title:          "Pirate",
		Description:    "A salty pirate.",
		InitialMessage: "Ahoy!",
	}, found)

	_, err = addCharacter(ctx, stores.Characters, store.Character{Title: "  ", Description: "x"})
	assert.ErrorIs(t, err, session.ErrCharacterTitleRequired)
	chars, err := stores.Characters.List(ctx)
	require.NoError(t, err)
	assert.Len(t, chars, 1)
}
