// Package cli implements the liestudio command: the dashboard client driven
// from a terminal. Logins made with --remember are kept in a bolt cookie jar
// so later invocations resume them.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	studio "github.com/liestudio/studio"
	"github.com/liestudio/studio/cookiejar"
	"github.com/liestudio/studio/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Jar     string

	// Load resolves the client configuration. Nil means config.LoadClient.
	Load func() (*config.Client, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the liestudio CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liestudio",
		Short: "LIEStudio dashboard client",
		Long: `Log in to a LIEStudio realm and use its user and logger procedures.

The realm, transports and application ticket come from LIESTUDIO_* variables
or a .env file. Logins made with --remember are resumed by later commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Jar, "jar", "", "cookie jar file (overrides LIESTUDIO_COOKIE_JAR)")

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewRetrieveCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewLintCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) studioConfig() (studio.Config, *config.Client, error) {
	load := o.Load
	if load == nil {
		load = config.LoadClient
	}
	cc, err := load()
	if err != nil {
		return studio.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := cc.Studio()
	if err != nil {
		return studio.Config{}, nil, err
	}
	return cfg, cc, nil
}

func (o *RootOptions) logger(w io.Writer) zerolog.Logger {
	level := zerolog.WarnLevel
	if o.Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
		Level(level).
		With().Timestamp().Logger()
}

// invocation is one command run's client and the jar behind it.
type invocation struct {
	client *studio.Client
	closer func() error
}

func (s *invocation) Close() error {
	err := s.client.Close(context.Background())
	if s.closer != nil {
		if cerr := s.closer(); err == nil {
			err = cerr
		}
	}
	return err
}

func (o *RootOptions) open(cmd *cobra.Command) (*invocation, error) {
	cfg, cc, err := o.studioConfig()
	if err != nil {
		return nil, err
	}

	path := o.Jar
	if path == "" {
		path = cc.CookieJar
	}
	var (
		jar    cookiejar.Jar = cookiejar.NewMemory()
		closer func() error
	)
	if path != "" {
		b, err := cookiejar.OpenBolt(path)
		if err != nil {
			return nil, err
		}
		jar, closer = b, b.Close
	}

	c, err := studio.New().
		WithConfig(cfg).
		WithCookieJar(jar).
		WithLogger(o.logger(cmd.ErrOrStderr())).
		Build()
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}
	return &invocation{client: c, closer: closer}, nil
}

// resume opens a client and resumes the remembered login.
func (o *RootOptions) resume(cmd *cobra.Command) (*invocation, error) {
	s, err := o.open(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.Resume(cmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w (log in with --remember first)", err)
	}
	return s, nil
}
