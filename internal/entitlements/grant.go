package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/cacheutil"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/storage"
)

// FromTransaction derives the entitlement a succeeded transaction grants.
// Downloads are permanent, watches last WatchWindow, series access lasts the
// purchased period and plans last their configured period.
func (r *Resolver) FromTransaction(tx storage.TransactionRecord) (access.Entitlement, error) {
	if !tx.Succeeded() {
		return access.Entitlement{}, fmt.Errorf("entitlements: transaction %s has not succeeded", tx.ID)
	}
	granted := tx.CreatedAt
	if tx.SettledAt != nil {
		granted = *tx.SettledAt
	}
	granted = granted.UTC()

	ent := access.Entitlement{
		UserID:        tx.UserID,
		ContentID:     tx.ContentID,
		Kind:          tx.Kind,
		GrantedAt:     granted,
		TransactionID: tx.ID,
	}

	var window time.Duration
	switch tx.Kind {
	case access.Download:
	case access.Watch:
		window = r.cfg.WatchWindow
	case access.SeriesAccess:
		d, err := access.ParsePeriod(tx.Period)
		if err != nil {
			return access.Entitlement{}, fmt.Errorf("entitlements: series transaction %s: %w", tx.ID, err)
		}
		window = d
	case access.SubscriptionUpgrade:
		d, ok := r.cfg.PlanPeriods[tx.Plan]
		if !ok || d <= 0 {
			return access.Entitlement{}, fmt.Errorf("entitlements: unknown plan %q on transaction %s", tx.Plan, tx.ID)
		}
		window = d
		if ent.ContentID == "" {
			ent.ContentID = access.PlanContentID(tx.Plan)
		}
	default:
		return access.Entitlement{}, fmt.Errorf("entitlements: transaction %s has unknown kind %q", tx.ID, tx.Kind)
	}
	if window > 0 {
		expires := granted.Add(window)
		ent.ExpiresAt = &expires
	}
	return ent, nil
}

// Grant records ent optimistically, ahead of the next authoritative refresh,
// and notifies listeners.
func (r *Resolver) Grant(ctx context.Context, ent access.Entitlement) error {
	if ent.UserID == "" {
		return ErrGuest
	}
	err := cacheutil.WriteThrough(func() { r.invalidate(ent.UserID) }, func() error {
		return r.store.SaveEntitlement(ctx, ent)
	})
	if err != nil {
		return fmt.Errorf("save entitlement: %w", err)
	}

	r.logger.Info().
		Str("user_id", ent.UserID).
		Str("content_id", ent.ContentID).
		Str("kind", string(ent.Kind)).
		Str("transaction_id", ent.TransactionID).
		Msg("entitlements.granted")

	r.notify(Change{UserID: ent.UserID, ContentID: ent.ContentID, Kind: ent.Kind, Reason: ChangeGrant})
	return nil
}

// RecordPurchase grants the entitlement of a succeeded transaction.
func (r *Resolver) RecordPurchase(ctx context.Context, tx storage.TransactionRecord) (access.Entitlement, error) {
	ent, err := r.FromTransaction(tx)
	if err != nil {
		return access.Entitlement{}, err
	}
	if err := r.Grant(ctx, ent); err != nil {
		return access.Entitlement{}, err
	}
	return ent, nil
}
