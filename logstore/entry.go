package logstore

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Levels accepted for log events. Unknown levels are stored as LevelInfo.
const (
	LevelDebug    = "debug"
	LevelInfo     = "info"
	LevelWarn     = "warn"
	LevelError    = "error"
	LevelCritical = "critical"
)

// ErrNoOwner is returned when an entry has no user to file it under.
var ErrNoOwner = errors.New("log entry has no user")

// Entry is one structured log event sent by a client.
type Entry struct {
	ID        string         `json:"id"`
	Time      time.Time      `json:"time"`
	CreatedAt time.Time      `json:"created_at"`
	Level     string         `json:"log_level"`
	Format    string         `json:"log_format,omitempty"`
	User      string         `json:"authid"`
	Namespace string         `json:"log_namespace,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// FromEvent builds an Entry from the dictionary a client sends to
// liestudio.logger.log. Known keys become fields of the entry; the remaining
// keys are kept in Fields. The user defaults to authid when the event has none.
func FromEvent(event map[string]any, authid string) Entry {
	e := Entry{
		Level:  LevelInfo,
		User:   authid,
		Fields: make(map[string]any),
	}
	for k, v := range event {
		s, isString := v.(string)
		switch k {
		case "log_level":
			if isString {
				e.Level = NormalizeLevel(s)
			}
		case "log_format":
			if isString {
				e.Format = s
			}
		case "log_namespace":
			if isString {
				e.Namespace = s
			}
		case "authid", "user":
			if isString && s != "" {
				e.User = s
			}
		case "time", "log_time":
			if isString {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					e.Time = t
				}
			}
		default:
			e.Fields[k] = v
		}
	}
	if len(e.Fields) == 0 {
		e.Fields = nil
	}
	return e
}

// NormalizeLevel maps a client supplied level to one of the Level constants.
func NormalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelDebug:
		return LevelDebug
	case "warning", LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	case LevelCritical, "fatal":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// ZerologLevel converts an entry level for re-emitting on the server logger.
func ZerologLevel(level string) zerolog.Level {
	switch NormalizeLevel(level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelCritical:
		// Fatal would exit the process.
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Map renders e as the dictionary returned by liestudio.logger.get.
func (e Entry) Map() map[string]any {
	m := map[string]any{
		"id":        e.ID,
		"log_level": e.Level,
		"authid":    e.User,
	}
	if !e.Time.IsZero() {
		m["time"] = e.Time.UTC().Format(time.RFC3339Nano)
	}
	if !e.CreatedAt.IsZero() {
		m["created_at"] = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if e.Format != "" {
		m["log_format"] = e.Format
	}
	if e.Namespace != "" {
		m["log_namespace"] = e.Namespace
	}
	if len(e.Fields) > 0 {
		m["fields"] = e.Fields
	}
	return m
}

// FromMap is the inverse of Entry.Map.
func FromMap(m map[string]any) Entry {
	e := FromEvent(m, "")
	if e.Fields == nil {
		return e
	}
	if id, ok := e.Fields["id"].(string); ok {
		e.ID = id
		delete(e.Fields, "id")
	}
	if s, ok := e.Fields["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.CreatedAt = t
		}
		delete(e.Fields, "created_at")
	}
	if nested, ok := e.Fields["fields"]; ok {
		delete(e.Fields, "fields")
		if inner, ok := asMap(nested); ok {
			for k, v := range inner {
				e.Fields[k] = v
			}
		}
	}
	if len(e.Fields) == 0 {
		e.Fields = nil
	}
	return e
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	}
	return nil, false
}
