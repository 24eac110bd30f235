package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information. It satisfies auth.Auditor.
//
// Audit is internal-only. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Tenant == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogInvalidation records a version bump: logout-all or admin revocation.
func (s *Service) LogInvalidation(ctx context.Context, tenant string, userID int64, version uint32, reason string) error {
	return s.Append(ctx, Event{
		Tenant:      tenant,
		Type:        EventTypeTokensInvalidated,
		UserID:      userID,
		ActorUserID: ActorFrom(ctx),
		Version:     version,
		Message:     reason,
	})
}

// LogReplay records a refresh token presented twice and the forced invalidation.
func (s *Service) LogReplay(ctx context.Context, tenant string, userID int64, version uint32, jti string) error {
	meta, _ := json.Marshal(map[string]string{"jti": jti})
	return s.Append(ctx, Event{
		Tenant:   tenant,
		Type:     EventTypeRefreshReplay,
		UserID:   userID,
		Version:  version,
		Message:  "refresh token reuse detected",
		Metadata: string(meta),
	})
}

// LogUserRemoved records an explicit user deletion.
func (s *Service) LogUserRemoved(ctx context.Context, tenant string, userID, actorUserID int64) error {
	return s.Append(ctx, Event{
		Tenant:      tenant,
		Type:        EventTypeUserRemoved,
		UserID:      userID,
		ActorUserID: actorUserID,
		Message:     "user removed",
	})
}

type actorKey struct{}

// WithActor attaches the acting admin's id to ctx so invalidations triggered
// on their behalf are attributed.
func WithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func ActorFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(actorKey{}).(int64)
	return id
}
