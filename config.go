/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Seednode/watchparty/party"
)

type Config struct {
	bind           string
	compress       bool
	driftTolerance time.Duration
	identityHeader string
	maxChatLength  int
	maxMessageSize int64
	operator       string
	port           int
	prefix         string
	profile        bool
	sendBuffer     int
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	logger *zap.SugaredLogger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.driftTolerance <= 0 {
		return fmt.Errorf("invalid drift tolerance (must be positive): %s", c.driftTolerance)
	}
	if c.maxChatLength < 1 {
		return fmt.Errorf("invalid max chat length (must be at least 1): %d", c.maxChatLength)
	}
	if c.maxMessageSize < 1 {
		return fmt.Errorf("invalid max message size (must be at least 1): %d", c.maxMessageSize)
	}
	if c.sendBuffer < 1 {
		return fmt.Errorf("invalid send buffer (must be at least 1): %d", c.sendBuffer)
	}
	return nil
}

// selfAssertedOperator reports whether the operator identity is taken
// from whatever display name a client joins with.
func (c *Config) selfAssertedOperator() bool {
	return c.operator != "" && c.identityHeader == ""
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) partyOptions() party.Options {
	return party.Options{
		Operator:       c.operator,
		DriftTolerance: c.driftTolerance,
		MaxChatLength:  c.maxChatLength,
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("WATCHPARTY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "watchparty",
		Short:         "Shared playback rooms with synchronized play, pause and seek, plus chat.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.verbose)
			if err != nil {
				return err
			}
			defer func() {
				_ = logger.Sync()
			}()

			cfg.logger = logger.Sugar()

			if cfg.selfAssertedOperator() {
				cfg.logger.Warnf("WARN: --operator is set without --identity-header; any client joining as %q becomes the operator", cfg.operator)
			}

			return ServePage(cmd.Context(), cfg, logger)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: WATCHPARTY_BIND)")
	fs.BoolVar(&cfg.compress, "compress", false, "gzip outbound protobuf frames (env: WATCHPARTY_COMPRESS)")
	fs.DurationVar(&cfg.driftTolerance, "drift-tolerance", party.DefaultDriftTolerance, "drift clients accept before seeking to a sync (env: WATCHPARTY_DRIFT_TOLERANCE)")
	fs.StringVar(&cfg.identityHeader, "identity-header", "", "trusted request header carrying the authenticated identity (env: WATCHPARTY_IDENTITY_HEADER)")
	fs.IntVar(&cfg.maxChatLength, "max-chat-length", party.DefaultMaxChatLength, "maximum chat message length, in characters (env: WATCHPARTY_MAX_CHAT_LENGTH)")
	fs.Int64Var(&cfg.maxMessageSize, "max-message-size", DefaultMaxMessageSize, "maximum inbound websocket message size, in bytes (env: WATCHPARTY_MAX_MESSAGE_SIZE)")
	fs.StringVar(&cfg.operator, "operator", "", "identity allowed to issue moderation commands (env: WATCHPARTY_OPERATOR)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: WATCHPARTY_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: WATCHPARTY_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: WATCHPARTY_PROFILE)")
	fs.IntVar(&cfg.sendBuffer, "send-buffer", 256, "outbound messages queued per connection before it is dropped (env: WATCHPARTY_SEND_BUFFER)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: WATCHPARTY_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: WATCHPARTY_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: WATCHPARTY_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: WATCHPARTY_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("watchparty v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
