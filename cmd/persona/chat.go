package main

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/persona/pkg/tokens"
	"github.com/go-go-golems/persona/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newChatCommand() *cobra.Command {
	flags := &sessionFlags{}
	var plain bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the default persona or a character",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			s, err := loadSettings(flags.ephemeral)
			if err != nil {
				return err
			}
			stores, err := openStores(ctx, s)
			if err != nil {
				return err
			}
			defer func() {
				if err := stores.Close(); err != nil {
					log.Warn().Err(err).Msg("Could not close stores")
				}
			}()

			m, err := newManager(ctx, s, stores, flags, nil)
			if err != nil {
				return err
			}
			defer m.Close()

			if plain || !isatty.IsTerminal(os.Stdout.Fd()) {
				return ui.NewREPL(m, os.Stdin, os.Stdout).Run(ctx)
			}

			counter, err := tokens.NewCounter(s.LLM.Model)
			if err != nil {
				log.Warn().Err(err).Msg("Token counting disabled")
				counter = nil
			}

			options := []tea.ProgramOption{
				tea.WithAltScreen(),
				tea.WithMouseCellMotion(),
				tea.WithContext(ctx),
			}
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				tty, err := ui.OpenTTY()
				if err != nil {
					return errors.Wrap(err, "could not open terminal for input")
				}
				defer func() {
					_ = tty.Close()
				}()
				options = append(options, tea.WithInput(tty))
			}

			// the TUI owns the terminal, so only the log file gets output
			initLogger(true)
			defer initLogger(false)

			model := ui.InitialModel(ctx, m,
				ui.WithTokenCounter(counter),
				ui.WithMarkdownStyle(s.Persona.MarkdownStyle),
			)
			_, err = tea.NewProgram(model, options...).Run()
			if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&plain, "plain", false, "Use the line based REPL even on a terminal")

	return cmd
}
