package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	studio "github.com/liestudio/studio"
)

func (o *RootOptions) formatter(cmd *cobra.Command) *Formatter {
	return &Formatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		password string
		remember bool
	)
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in to the realm",
		Long: `Log in with a username and password. Without --password the password is
read from the first line of standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if password == "" {
				pw, err := readLine(cmd)
				if err != nil {
					return f.Failure(err)
				}
				password = pw
			}

			s, err := rootOpts.open(cmd)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			id, err := s.client.Login(cmd.Context(), studio.Credential{
				Username: args[0],
				Password: password,
				Remember: remember,
			})
			if err != nil {
				return f.Failure(fmt.Errorf("%s: %w", s.client.Status(), err))
			}
			v := viewIdentity(id)
			return f.Success(v, s.client.Status()+"\n"+v.String())
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when empty)")
	cmd.Flags().BoolVar(&remember, "remember", false, "keep the login for later commands")
	return cmd
}

func readLine(cmd *cobra.Command) (string, error) {
	sc := bufio.NewScanner(cmd.InOrStdin())
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no password on standard input")
	}
	return strings.TrimRight(sc.Text(), "\r"), nil
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the remembered login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := rootOpts.resume(cmd)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			msg, err := s.client.Logout(cmd.Context())
			if err != nil {
				return f.Failure(err)
			}
			return f.Success(map[string]string{"message": msg}, msg)
		},
	}
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Resume the remembered login and show the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := rootOpts.resume(cmd)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			snap := s.client.Session()
			v := viewIdentity(&studio.Identity{
				UserID:    snap.UserID,
				Username:  snap.Username,
				Email:     snap.Email,
				SessionID: snap.SessionToken,
			})
			return f.Success(v, v.String())
		},
	}
}

// NewRetrieveCommand creates the retrieve command.
func NewRetrieveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retrieve <email>",
		Short: "Ask the server to mail a new password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := rootOpts.open(cmd)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			sent, err := s.client.RetrievePassword(cmd.Context(), args[0])
			if err != nil {
				return f.Failure(err)
			}
			text := "No account uses " + args[0]
			if sent {
				text = "A new password was sent to " + args[0]
			}
			return f.Success(map[string]bool{"sent": sent}, text)
		},
	}
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "List the log entries of the remembered user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := rootOpts.resume(cmd)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			entries, err := s.client.Logs(cmd.Context())
			if err != nil {
				return f.Failure(err)
			}
			if entries == nil {
				entries = []studio.LogEntry{}
			}
			return f.Success(entries, formatEntries(entries))
		},
	}
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log <level> <format> [key=value...]",
		Short: "Store a log event",
		Long: `Store a log event for the remembered user. Placeholders such as {view}
in the format are filled from the key=value fields when displayed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			fields := make(map[string]any, len(args)-2)
			for _, kv := range args[2:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return f.Failure(fmt.Errorf("field %q is not key=value", kv))
				}
				fields[k] = v
			}

			s, err := rootOpts.resume(cmd)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			id, err := s.client.Log(cmd.Context(), args[0], args[1], fields)
			if err != nil {
				return f.Failure(err)
			}
			return f.Success(map[string]string{"id": id}, id)
		},
	}
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the remember-me token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := rootOpts.open(cmd)
			if err != nil {
				return f.Failure(err)
			}
			defer s.Close()

			token, err := s.client.RememberToken()
			if err != nil {
				return f.Failure(err)
			}
			return f.Success(map[string]string{"token": token}, token)
		},
	}
}

// NewLintCommand creates the lint command.
func NewLintCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Check the client configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, _, err := rootOpts.studioConfig()
			if err != nil {
				return f.Failure(err)
			}

			warnings := cfg.Lint()
			lines := make([]string, 0, len(warnings))
			for _, w := range warnings {
				lines = append(lines, w.Code+": "+w.Message)
			}
			if len(lines) == 0 {
				lines = append(lines, "configuration ok")
			}
			if warnings == nil {
				warnings = studio.LintWarnings{}
			}
			return f.Success(warnings, strings.Join(lines, "\n"))
		},
	}
}
