package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"lot_harvester/identity"
	"lot_harvester/models"
)

// Reconciler applies a crawl snapshot to the catalog: unseen lots are created,
// seen lots are overwritten and reactivated, and lots that were active before the
// run but are missing from the snapshot are soft-deleted.
type Reconciler struct {
	store CatalogStore
	now   func() time.Time
}

func NewReconciler(store CatalogStore) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// Reconcile loads the active set and applies the snapshot against it
func (r *Reconciler) Reconcile(ctx context.Context, snapshot []models.DetailRecord) (*models.ReconcileResult, error) {
	active, err := r.store.ActiveExternalIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active lots: %w", err)
	}

	result := &models.ReconcileResult{}
	r.Apply(ctx, active, snapshot, result)
	return result, nil
}

// Apply writes the snapshot and marks the result successful. activeBefore must
// be read before the crawl that produced the snapshot started. Store failures
// are collected in result.Errors and never stop the remaining work.
func (r *Reconciler) Apply(ctx context.Context, activeBefore []string, snapshot []models.DetailRecord, result *models.ReconcileResult) {
	now := r.now().UTC()
	processed := make(map[string]struct{}, len(snapshot))

	for i := range snapshot {
		rec := &snapshot[i]
		processed[rec.ExternalID] = struct{}{}

		isNew, changed, err := r.upsert(ctx, rec, now)
		if err != nil {
			msg := fmt.Sprintf("failed to process lot %s: %v", rec.ExternalID, err)
			log.Println(msg)
			result.AddError(msg)
			continue
		}

		if isNew {
			result.New++
		} else {
			result.Updated++
		}
		if changed {
			result.Changed++
		}
	}

	for _, id := range activeBefore {
		if _, ok := processed[id]; ok {
			continue
		}
		if err := r.store.DeactivateLot(ctx, id, now); err != nil {
			msg := fmt.Sprintf("failed to deactivate lot %s: %v", id, err)
			log.Println(msg)
			result.AddError(msg)
			continue
		}
		result.Deactivated++
	}

	result.Parsed = len(snapshot)
	result.Success = true
}

// upsert reports whether the lot was new and, for an existing lot, whether its
// content differs from what was stored
func (r *Reconciler) upsert(ctx context.Context, rec *models.DetailRecord, now time.Time) (bool, bool, error) {
	fingerprint := identity.Fingerprint(rec)

	existing, err := r.store.GetLotByExternalID(ctx, rec.ExternalID)
	if err != nil {
		return false, false, err
	}

	if existing == nil {
		entry := models.NewCatalogEntry(rec, now)
		entry.Fingerprint = fingerprint
		if err := r.store.InsertLot(ctx, entry); err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	changed := existing.Fingerprint != fingerprint
	if !existing.IsActive {
		log.Printf("Lot %s is back on the listing", rec.ExternalID)
	}

	existing.Apply(rec)
	existing.Fingerprint = fingerprint
	existing.IsActive = true
	existing.LastSeenAt = now
	existing.UpdatedAt = now
	if err := r.store.UpdateLot(ctx, existing); err != nil {
		return false, false, err
	}
	return false, changed, nil
}
