package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/jobscan/jobscan/pkg/lock"
	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/storage"
	"github.com/jobscan/jobscan/pkg/utils"
)

// Applied is the result of reconciling and persisting one candidate
type Applied struct {
	Decision models.Decision
	RecordID string
}

// Deduplicator decides create / update / skip for candidates and performs the
// resulting write under a per identity key lock.
type Deduplicator struct {
	store        storage.JobStore
	locker       lock.Locker
	clock        clock.Clock
	writeTimeout time.Duration
	newID        func() string
	log          *logrus.Entry
}

// NewDeduplicator creates a Deduplicator. A nil locker serializes in process,
// a nil clock uses the wall clock.
func NewDeduplicator(store storage.JobStore, locker lock.Locker, clk clock.Clock, writeTimeout time.Duration, log *logrus.Entry) *Deduplicator {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Deduplicator{
		store:        store,
		locker:       locker,
		clock:        clk,
		writeTimeout: writeTimeout,
		newID:        func() string { return uuid.New().String() },
		log:          log,
	}
}

// Reconcile looks up the candidate's identity key and returns the decision
// without writing anything.
func (d *Deduplicator) Reconcile(ctx context.Context, c *models.JobCandidate) (models.Decision, error) {
	decision, _, err := d.reconcile(ctx, c)
	return decision, err
}

func (d *Deduplicator) reconcile(ctx context.Context, c *models.JobCandidate) (models.Decision, *models.JobRecord, error) {
	decision := models.Decision{
		Key:    ComputeIdentityKey(c),
		Digest: ContentDigest(c),
	}

	existing, err := d.find(ctx, decision.Key)
	if err != nil {
		return decision, nil, err
	}

	var winner *models.JobRecord
	switch len(existing) {
	case 0:
		decision.Kind = models.DecisionCreate
		return decision, nil, nil
	case 1:
		winner = existing[0]
	default:
		winner = mostRecent(existing)
		warning := conflictWarning(decision.Key, winner, existing)
		decision.Warnings = append(decision.Warnings, warning)
		d.log.WithFields(logrus.Fields{
			"identity_key": decision.Key,
			"matches":      len(existing),
			"category":     utils.CategorizeError(utils.ErrReconciliationConflict),
		}).Warn(warning)
	}

	decision.ExistingID = winner.ID
	if winner.ContentDigest == decision.Digest {
		decision.Kind = models.DecisionSkipDuplicate
	} else {
		decision.Kind = models.DecisionUpdateIfChanged
	}
	return decision, winner, nil
}

// Apply reconciles c and performs the write its decision calls for. The
// lookup and the write run under the identity key lock, so concurrent visits
// producing the same key cannot both create a record.
func (d *Deduplicator) Apply(ctx context.Context, c *models.JobCandidate) (Applied, error) {
	key := ComputeIdentityKey(c)
	release, err := d.locker.Lock(ctx, key)
	if err != nil {
		return Applied{Decision: models.Decision{Key: key}}, fmt.Errorf("identity key %s: %w", key, err)
	}
	defer release()

	decision, existing, err := d.reconcile(ctx, c)
	if err != nil {
		return Applied{Decision: decision}, err
	}
	applied := Applied{Decision: decision, RecordID: decision.ExistingID}
	now := d.clock.Now().UTC()

	switch decision.Kind {
	case models.DecisionCreate:
		rec := &models.JobRecord{
			ID:            d.newID(),
			IdentityKey:   decision.Key,
			ContentDigest: decision.Digest,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		rec.ApplyCandidate(c)
		if err := d.write(ctx, func(wctx context.Context) error { return d.store.CreateRecord(wctx, rec) }); err != nil {
			return applied, err
		}
		applied.RecordID = rec.ID

	case models.DecisionUpdateIfChanged:
		rec := *existing
		rec.ApplyCandidate(c)
		rec.IdentityKey = decision.Key
		rec.ContentDigest = decision.Digest
		rec.UpdatedAt = now
		if err := d.write(ctx, func(wctx context.Context) error { return d.store.UpdateRecord(wctx, &rec) }); err != nil {
			return applied, err
		}
	}

	d.log.WithFields(logrus.Fields{
		"decision":  decision.Kind,
		"record_id": applied.RecordID,
		"title":     c.Title.String(),
	}).Debug("Candidate reconciled")
	return applied, nil
}

func (d *Deduplicator) find(ctx context.Context, key models.IdentityKey) ([]*models.JobRecord, error) {
	var found []*models.JobRecord
	err := d.write(ctx, func(wctx context.Context) error {
		var err error
		found, err = d.store.FindByIdentityKey(wctx, key)
		return err
	})
	return found, err
}

// write runs one store call under the storage timeout and guarantees the
// returned error matches utils.ErrStorage.
func (d *Deduplicator) write(ctx context.Context, fn func(context.Context) error) error {
	wctx := ctx
	if d.writeTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, d.writeTimeout)
		defer cancel()
	}
	err := fn(wctx)
	if err == nil {
		return nil
	}
	if wctx.Err() != nil && ctx.Err() == nil {
		err = fmt.Errorf("storage call exceeded %v: %w", d.writeTimeout, err)
	}
	if !errors.Is(err, utils.ErrStorage) {
		err = fmt.Errorf("%w: %w", utils.ErrStorage, err)
	}
	return err
}

// mostRecent picks the latest created record; equal timestamps go to the greatest id
func mostRecent(records []*models.JobRecord) *models.JobRecord {
	sorted := make([]*models.JobRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	return sorted[0]
}

func conflictWarning(key models.IdentityKey, winner *models.JobRecord, all []*models.JobRecord) string {
	ignored := make([]string, 0, len(all)-1)
	for _, r := range all {
		if r.ID != winner.ID {
			ignored = append(ignored, r.ID)
		}
	}
	sort.Strings(ignored)
	return fmt.Sprintf("%v: %s matches %d records, using %s, ignoring %v",
		utils.ErrReconciliationConflict, key, len(all), winner.ID, ignored)
}
