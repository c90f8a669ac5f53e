package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/value-core/internal/repository"
	"github.com/google/uuid"
)

// QueryStore is the persistence contract the services run against. repository.Store
// backs it in production and memstore.Store in tests.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

var _ QueryStore = (*repository.Store)(nil)

type auditEntity string

const (
	auditSettlement   auditEntity = "settlement"
	auditReferralLink auditEntity = "referral_link"
)

// auditEntry is one append-only row of the audit log. From and To hold the
// entity state around the action; either may be empty.
type auditEntry struct {
	Entity   auditEntity
	EntityID uuid.UUID
	Actor    *uuid.UUID
	Action   string
	From     string
	To       string
	Metadata []byte
}

// writeAudit records e in the same query scope as the change it describes.
func writeAudit(ctx context.Context, q repository.Querier, e auditEntry) error {
	err := q.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: string(e.Entity),
		EntityID:   e.EntityID,
		ActorID:    e.Actor,
		Action:     e.Action,
		PrevState:  optionalText(e.From),
		NextState:  optionalText(e.To),
		Metadata:   e.Metadata,
	})
	if err != nil {
		return fmt.Errorf("audit %s %s: %w", e.Entity, e.Action, err)
	}
	return nil
}

func optionalText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
