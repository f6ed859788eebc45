package studio

import (
	"context"
	"errors"
)

// AuditErrorCode is the error classification stored in audit events.
type AuditErrorCode string

const (
	auditErrValidation     AuditErrorCode = "validation"
	auditErrTransport      AuditErrorCode = "transport"
	auditErrRejected       AuditErrorCode = "rejected"
	auditErrPending        AuditErrorCode = "pending"
	auditErrNotLoggedIn    AuditErrorCode = "not_logged_in"
	auditErrLoggedIn       AuditErrorCode = "already_logged_in"
	auditErrNotRemembered  AuditErrorCode = "not_remembered"
	auditErrMalformedReply AuditErrorCode = "malformed_reply"
	auditErrInternal       AuditErrorCode = "internal_error"
)

func (c *Client) emitAudit(ctx context.Context, eventType string, success bool, username, userID, sessionID string, err error) {
	if c == nil || c.audit == nil {
		return
	}

	event := AuditEvent{
		EventType: eventType,
		Username:  username,
		UserID:    userID,
		SessionID: sessionID,
		Domain:    domainFromContext(ctx),
		Success:   success,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	c.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrLoginPending):
		return auditErrPending
	case errors.Is(err, ErrLoginRejected), errors.Is(err, ErrLogoutRejected):
		return auditErrRejected
	case errors.Is(err, ErrNotLoggedIn):
		return auditErrNotLoggedIn
	case errors.Is(err, ErrAlreadyLoggedIn):
		return auditErrLoggedIn
	case errors.Is(err, ErrNotRemembered):
		return auditErrNotRemembered
	case errors.Is(err, ErrMalformedReply):
		return auditErrMalformedReply
	case ErrorKind(err) == KindTransport:
		return auditErrTransport
	default:
		return auditErrInternal
	}
}
