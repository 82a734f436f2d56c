package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/persona/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "persona",
	Short: "persona lets you chat with LLM characters",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		if err := config.ConfigureViper(viper.GetViper(), configFile); err != nil {
			return err
		}
		// reinitialize the logger now that flags and config are parsed
		initLogger(false)

		log.Debug().
			Str("config", viper.ConfigFileUsed()).
			Msg("Loaded configuration")
		return nil
	},
	SilenceUsage: true,
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
	// FileOnly drops the stderr writer, for when a TUI owns the terminal.
	FileOnly bool
}

func initLogger(fileOnly bool) {
	err := InitLogger(&logConfig{
		Level:      viper.GetString("log-level"),
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
		FileOnly:   fileOnly,
	})
	cobra.CheckErr(err)
}

func InitLogger(cfg *logConfig) error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.WithCaller {
		logger = logger.With().Caller().Logger()
	}

	// default is text
	var writers []io.Writer
	if !cfg.FileOnly {
		if cfg.LogFormat == "json" {
			writers = append(writers, os.Stderr)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
		}
	}

	if cfg.LogFile != "" {
		writers = append(writers, zerolog.ConsoleWriter{
			NoColor: true,
			Out: &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, //days
			},
		})
	}

	switch len(writers) {
	case 0:
		log.Logger = logger.Output(io.Discard)
	case 1:
		log.Logger = logger.Output(writers[0])
	default:
		log.Logger = logger.Output(io.MultiWriter(writers...))
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()

	// logging flags
	flags.Bool("with-caller", false, "Log caller")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.String("log-file", "", "Log file (default: stderr)")

	flags.String("config", "", "Path to config file (default ~/.persona/config.yaml)")

	// store and llm flags, bound to their nested config keys
	flags.String("store-backend", "", "Store backend (json, memory, sqlite, postgres)")
	flags.String("store-dir", "", "Directory for json and sqlite stores")
	flags.String("store-dsn", "", "DSN for sqlite or postgres stores")
	flags.String("provider", "", "LLM provider (openai, ollama, echo)")
	flags.String("model", "", "Model name")
	flags.String("base-url", "", "Base URL of the OpenAI compatible API")
	flags.String("api-key", "", "API key of the OpenAI compatible API")

	cobra.CheckErr(viper.BindPFlags(flags))
	for key, flag := range map[string]string{
		"store.backend": "store-backend",
		"store.dir":     "store-dir",
		"store.dsn":     "store-dsn",
		"llm.provider":  "provider",
		"llm.model":     "model",
		"llm.base-url":  "base-url",
		"llm.api-key":   "api-key",
	} {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(flag)))
	}

	rootCmd.AddCommand(
		newChatCommand(),
		newCharactersCommand(),
		newChatsCommand(),
		newServeCommand(),
	)
}
