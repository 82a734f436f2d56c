package main

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/persona/pkg/events"
	"github.com/go-go-golems/persona/pkg/server"
	"github.com/go-go-golems/persona/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	flags := &sessionFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a chat session over HTTP and websocket",
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

			router, err := events.NewEventRouter(
				events.WithVerbose(viper.GetString("log-level") == "trace"),
			)
			if err != nil {
				return err
			}
			defer func() {
				_ = router.Close()
			}()

			router.AddHandler("transcript-log", events.TopicTranscript, func(msg *message.Message) error {
				e, err := events.NewTranscriptEventFromJSON(msg.Payload)
				if err != nil {
					log.Warn().Err(err).Msg("Dropping undecodable transcript event")
					return nil
				}
				log.Debug().
					Str("session_id", e.SessionID).
					Str("type", string(e.Type)).
					Int("messages", len(e.Messages)).
					Msg("Transcript event")
				return nil
			})

			m, err := newManager(ctx, s, stores, flags, router.Publisher)
			if err != nil {
				return err
			}
			loop := session.NewLoop(m)
			srv := server.New(loop, router)

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return router.Run(ctx)
			})
			eg.Go(func() error {
				return loop.Run(ctx)
			})
			eg.Go(func() error {
				select {
				case <-router.Running():
				case <-ctx.Done():
					return nil
				}
				return srv.Serve(ctx, s.Server.Address)
			})

			err = eg.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().String("address", "", "Listen address (default from server.address)")
	cobra.CheckErr(viper.BindPFlag("server.address", cmd.Flags().Lookup("address")))

	return cmd
}
