package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/go-go-golems/persona/pkg/config"
	"github.com/go-go-golems/persona/pkg/conversation"
	"github.com/go-go-golems/persona/pkg/store"
	"github.com/go-go-golems/persona/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newChatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Inspect saved chats",
	}
	cmd.AddCommand(
		newChatsListCommand(),
		newChatsShowCommand(),
		newChatsExportCommand(),
	)
	return cmd
}

func parseChatID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid chat id %q", arg)
	}
	return id, nil
}

func newChatsListCommand() *cobra.Command {
	var output string
	var characterID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(s *config.Settings, stores *store.Stores) error {
				counter, err := tokens.NewCounter(s.LLM.Model)
				if err != nil {
					return err
				}

				var chats []store.SavedChat
				if cmd.Flags().Changed("character") {
					chats, err = store.ChatsForCharacter(cmd.Context(), stores.Chats, characterID)
				} else {
					chats, err = stores.Chats.List(cmd.Context())
				}
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if done, err := writeStructured(w, output, chats); done {
					return err
				}
				for _, c := range chats {
					_, _ = fmt.Fprintf(w, "%d\t%s\t%d messages\t~%d tokens",
						c.ID, c.Title, c.Conversation.Len(), counter.CountMessages(c.Conversation.Messages()))
					if c.CharacterTitle != "" {
						_, _ = fmt.Fprintf(w, "\t[%s]", c.CharacterTitle)
					}
					_, _ = fmt.Fprintln(w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, yaml)")
	cmd.Flags().Int64Var(&characterID, "character", 0, "Only chats bound to this character id")
	return cmd
}

func newChatsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			return withStores(cmd, func(_ *config.Settings, stores *store.Stores) error {
				chat, err := stores.Chats.FindByID(cmd.Context(), id)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				title := color.New(color.Bold)
				roles := map[conversation.Role]*color.Color{
					conversation.RoleSystem:    color.New(color.Faint),
					conversation.RoleAssistant: color.New(color.FgMagenta, color.Bold),
					conversation.RoleHuman:     color.New(color.FgCyan, color.Bold),
				}

				_, _ = title.Fprintf(w, "%s\n\n", chat.Title)
				for _, msg := range chat.Conversation.Messages() {
					c, ok := roles[msg.Role]
					if !ok {
						c = color.New()
					}
					_, _ = c.Fprintf(w, "%s: ", msg.Role.String())
					_, _ = fmt.Fprintln(w, msg.Text)
				}
				return nil
			})
		},
	}
}

func newChatsExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> <file>",
		Short: "Write a saved chat to a .json or .yaml file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			return withStores(cmd, func(_ *config.Settings, stores *store.Stores) error {
				chat, err := stores.Chats.FindByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if err := chat.Conversation.SaveToFile(args[1]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote chat %d to %s\n", id, args[1])
				return nil
			})
		},
	}
}
