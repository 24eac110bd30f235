package apikey

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

type Verifier struct {
	store Store
	now   func() time.Time
	log   *slog.Logger
}

func NewVerifier(store Store, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{store: store, now: time.Now, log: log}
}

// Verify resolves raw against tenant's key store. ErrNotFound, ErrInactive,
// ErrRevoked and ErrExpired are client errors; anything else is a store failure.
func (v *Verifier) Verify(ctx context.Context, tenant, raw string) (Key, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Key{}, ErrMissing
	}

	k, err := v.store.FindByHash(ctx, tenant, Hash(raw))
	if err != nil {
		return Key{}, err
	}
	now := v.now()
	if err := k.Usable(now); err != nil {
		v.log.Info("api key rejected", "tenant", tenant, "key_id", k.ID, "err", err)
		return Key{}, err
	}

	if err := v.store.TouchLastUsed(ctx, tenant, k.ID, now); err != nil {
		v.log.Warn("api key last-used update failed", "tenant", tenant, "key_id", k.ID, "err", err)
	}
	return k, nil
}

// IsClientError reports whether err means the presented key is not acceptable,
// as opposed to the store being unavailable.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissing) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInactive) ||
		errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrExpired)
}
