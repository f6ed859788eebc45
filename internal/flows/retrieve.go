package flows

import (
	"context"
	"strings"

	"github.com/liestudio/studio/user"
)

// RetrieveDeps captures password retrieval dependencies.
type RetrieveDeps struct {
	CheckRate func(ctx context.Context, email string) error
	Retrieve  func(ctx context.Context, email string) (*user.User, error)

	MetricInc func(int)
	EmitAudit func(context.Context, AuditRecord)

	Metric    int
	AuditName string
}

// RunRetrieve mails a fresh password to the owner of email. It returns
// false without error for unknown addresses.
func RunRetrieve(ctx context.Context, email string, deps RetrieveDeps) (bool, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noAudit
	}

	email = strings.TrimSpace(email)
	deps.MetricInc(deps.Metric)

	if deps.CheckRate != nil {
		if err := deps.CheckRate(ctx, email); err != nil {
			deps.EmitAudit(ctx, AuditRecord{Event: deps.AuditName, Err: err})
			return false, err
		}
	}

	u, err := deps.Retrieve(ctx, email)
	if err != nil || u == nil {
		deps.EmitAudit(ctx, AuditRecord{Event: deps.AuditName, Err: err})
		return false, err
	}

	deps.EmitAudit(ctx, AuditRecord{
		Event:    deps.AuditName,
		Username: u.Username,
		UserID:   u.UIDString(),
		Success:  true,
	})
	return true, nil
}
