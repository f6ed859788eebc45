package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	studio "github.com/liestudio/studio"
)

// Response is the JSON envelope of every command.
type Response struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a Response.
type CLIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Formatter writes command results as text or JSON.
type Formatter struct {
	Format string
	Writer io.Writer
}

// Success writes data. Text output uses text when it is not empty.
func (f *Formatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	if text == "" {
		text = fmt.Sprint(data)
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Failure reports err in JSON mode and returns it unchanged so the command
// still exits non-zero.
func (f *Formatter) Failure(err error) error {
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(Response{
			Status: "error",
			Error:  &CLIError{Kind: studio.ErrorKind(err).String(), Message: err.Error()},
		})
	}
	return err
}

type identityView struct {
	UserID    string `json:"uid"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
}

func viewIdentity(id *studio.Identity) identityView {
	return identityView{
		UserID:    id.UserID,
		Username:  id.Username,
		Email:     id.Email,
		SessionID: id.SessionID,
	}
}

func (v identityView) String() string {
	return fmt.Sprintf("%s <%s> session %s", v.Username, v.Email, v.SessionID)
}

func formatEntries(entries []studio.LogEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %-8s %s %s", e.Time.Format("2006-01-02 15:04:05"), e.Level, e.User, e.Format)
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
		}
	}
	return b.String()
}
