package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/persona/pkg/config"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/go-go-golems/persona/pkg/store"
	"github.com/go-go-golems/persona/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"gopkg.in/yaml.v3"
)

func newCharactersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "characters",
		Short: "Manage characters",
	}
	cmd.AddCommand(
		newCharactersListCommand(),
		newCharactersAddCommand(),
		newCharactersImportCommand(),
	)
	return cmd
}

func withStores(cmd *cobra.Command, f func(s *config.Settings, stores *store.Stores) error) error {
	s, err := loadSettings(false)
	if err != nil {
		return err
	}
	stores, err := openStores(cmd.Context(), s)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn().Err(err).Msg("Could not close stores")
		}
	}()
	return f(s, stores)
}

// writeStructured prints v as json or yaml. It returns false for the text
// format so the caller can print its own table.
func writeStructured(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		b, err := yaml.Marshal(v)
		if err != nil {
			return true, err
		}
		_, err = w.Write(b)
		return true, err
	case "", "text":
		return false, nil
	default:
		return true, errors.Errorf("unknown output format %q", format)
	}
}

func newCharactersListCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List characters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(_ *config.Settings, stores *store.Stores) error {
				chars, err := stores.Characters.List(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if done, err := writeStructured(w, output, chars); done {
					return err
				}
				for _, c := range chars {
					_, _ = fmt.Fprintf(w, "%d\t%s\n", c.ID, c.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, yaml)")
	return cmd
}

func newCharactersAddCommand() *cobra.Command {
	var c store.Character
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a character, asking for missing fields",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.Title == "" || c.Description == "" {
				if err := askCharacter(&c); err != nil {
					return err
				}
			}
			return withStores(cmd, func(_ *config.Settings, stores *store.Stores) error {
				added, err := addCharacter(cmd.Context(), stores.Characters, c)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added character %d (%s)\n", added.ID, added.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&c.Title, "title", "", "Character title")
	cmd.Flags().StringVar(&c.Description, "description", "", "Character description, appended to the base prompt")
	cmd.Flags().StringVar(&c.InitialMessage, "initial-message", "", "First assistant message")
	return cmd
}

// addCharacter stores c with the same trimming and validation the chat
// session applies.
func addCharacter(ctx context.Context, characters store.CharacterStore, c store.Character) (store.Character, error) {
	added, err := session.NewCharacter(c.Title, c.Description, c.InitialMessage)
	if err != nil {
		return store.Character{}, err
	}
	if err := characters.Append(ctx, added); err != nil {
		return store.Character{}, errors.Wrap(err, "could not save character")
	}
	return added, nil
}

// askCharacter prompts on the terminal for the fields that were not given
// as flags.
func askCharacter(c *store.Character) error {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsTerminal(os.Stdout.Fd()) {
		return errors.New("--title and --description are required when not on a terminal")
	}

	tty, err := ui.OpenTTY()
	if err != nil {
		return err
	}
	defer func() {
		_ = tty.Close()
	}()

	in := &input.UI{
		Writer: tty,
		Reader: tty,
	}

	ask := func(query string, target *string, required bool) error {
		if *target != "" {
			return nil
		}
		answer, err := in.Ask(query, &input.Options{
			Required:  required,
			Loop:      required,
			HideOrder: true,
		})
		if err != nil {
			return err
		}
		*target = answer
		return nil
	}

	if err := ask("Title", &c.Title, true); err != nil {
		return err
	}
	if err := ask("Description", &c.Description, true); err != nil {
		return err
	}
	return ask("Initial message (optional)", &c.InitialMessage, false)
}

func newCharactersImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import characters from a YAML or JSON list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chars, err := store.LoadCharactersFromFile(args[0])
			if err != nil {
				return err
			}
			return withStores(cmd, func(_ *config.Settings, stores *store.Stores) error {
				if err := store.ImportCharacters(cmd.Context(), stores.Characters, chars); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d characters\n", len(chars))
				return nil
			})
		},
	}
}
