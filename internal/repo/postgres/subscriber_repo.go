package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alenakom/speechstar/internal/domain/enums"
	"github.com/alenakom/speechstar/internal/domain/model"
)

var ErrSubscriberNotFound = errors.New("subscriber not found")

const subscriberColumns = `
id, registered_at, cohort, trial_started_at, tier, expires_at,
last_delivered_on, pending_charge_id, pending_charge_tier, pending_charge_amount_minor,
dialog_state`

type SubscriberRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriberRepo(pool *pgxpool.Pool) *SubscriberRepo {
	return &SubscriberRepo{pool: pool}
}

func (r *SubscriberRepo) Get(ctx context.Context, id int64) (model.Subscriber, error) {
	if r.pool == nil {
		return model.Subscriber{}, fmt.Errorf("postgres pool is nil")
	}
	if id <= 0 {
		return model.Subscriber{}, fmt.Errorf("invalid subscriber id")
	}

	row := r.pool.QueryRow(ctx, `
SELECT `+subscriberColumns+`
FROM subscribers
WHERE id = $1
`, id)
	sub, err := scanSubscriber(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscriber{}, ErrSubscriberNotFound
		}
		return model.Subscriber{}, fmt.Errorf("find subscriber: %w", err)
	}

	return sub, nil
}

// GetOrCreate registers a subscriber lazily at first contact.
// registered_at is written once and never updated afterwards.
func (r *SubscriberRepo) GetOrCreate(ctx context.Context, id int64) (model.Subscriber, error) {
	if r.pool == nil {
		return model.Subscriber{}, fmt.Errorf("postgres pool is nil")
	}
	if id <= 0 {
		return model.Subscriber{}, fmt.Errorf("invalid subscriber id")
	}

	row := r.pool.QueryRow(ctx, `
INSERT INTO subscribers (id, registered_at, cohort, tier, dialog_state)
VALUES ($1, NOW(), '', 'none', 'idle')
ON CONFLICT (id) DO UPDATE SET id = subscribers.id
RETURNING `+subscriberColumns+`
`, id)
	sub, err := scanSubscriber(row)
	if err != nil {
		return model.Subscriber{}, fmt.Errorf("get or create subscriber: %w", err)
	}

	return sub, nil
}

func (r *SubscriberRepo) ListIDs(ctx context.Context) ([]int64, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `SELECT id FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list subscriber ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriber ids: %w", err)
	}

	return ids, nil
}

// SetCohortAndTrial changes the cohort and starts the trial clock on the
// first-ever selection. COALESCE keeps trial_started_at immutable once set.
func (r *SubscriberRepo) SetCohortAndTrial(ctx context.Context, id int64, cohort enums.Cohort, trialStart time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if id <= 0 || !cohort.Selected() {
		return fmt.Errorf("invalid cohort update")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE subscribers
SET cohort = $2, trial_started_at = COALESCE(trial_started_at, $3)
WHERE id = $1
`, id, string(cohort), trialStart.UTC())
	if err != nil {
		return fmt.Errorf("set subscriber cohort: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}

	return nil
}

func (r *SubscriberRepo) SetTier(ctx context.Context, id int64, tier enums.Tier, expiresAt *time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if id <= 0 {
		return fmt.Errorf("invalid subscriber id")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE subscribers
SET tier = $2, expires_at = $3
WHERE id = $1
`, id, string(tier), expiresAt)
	if err != nil {
		return fmt.Errorf("set subscriber tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}

	return nil
}

func (r *SubscriberRepo) SetPendingCharge(ctx context.Context, id int64, charge model.PendingCharge) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if id <= 0 || charge.ChargeID == "" {
		return fmt.Errorf("invalid pending charge update")
	}

	tag, err := r.pool.Exec(ctx, `
UPDATE subscribers
SET pending_charge_id = $2, pending_charge_tier = $3, pending_charge_amount_minor = $4
WHERE id = $1
`, id, charge.ChargeID, string(charge.Tier), charge.AmountMinor)
	if err != nil {
		return fmt.Errorf("set pending charge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}

	return nil
}

func (r *SubscriberRepo) ClearPendingCharge(ctx context.Context, id int64) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if id <= 0 {
		return fmt.Errorf("invalid subscriber id")
	}

	if _, err := r.pool.Exec(ctx, `
UPDATE subscribers
SET pending_charge_id = NULL, pending_charge_tier = NULL, pending_charge_amount_minor = NULL
WHERE id = $1
`, id); err != nil {
		return fmt.Errorf("clear pending charge: %w", err)
	}

	return nil
}

// StampDelivered records one delivery for the given calendar day. The WHERE
// clause keeps the date monotonic; a stale or duplicate stamp is a no-op.
func (r *SubscriberRepo) StampDelivered(ctx context.Context, id int64, dayKey string) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if id <= 0 || dayKey == "" {
		return fmt.Errorf("invalid delivery stamp")
	}

	if _, err := r.pool.Exec(ctx, `
UPDATE subscribers
SET last_delivered_on = $2::date
WHERE id = $1 AND (last_delivered_on IS NULL OR last_delivered_on < $2::date)
`, id, dayKey); err != nil {
		return fmt.Errorf("stamp delivery date: %w", err)
	}

	return nil
}

func (r *SubscriberRepo) SetDialogState(ctx context.Context, id int64, state enums.DialogState) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if id <= 0 {
		return fmt.Errorf("invalid subscriber id")
	}

	if _, err := r.pool.Exec(ctx, `
UPDATE subscribers
SET dialog_state = $2
WHERE id = $1
`, id, string(state)); err != nil {
		return fmt.Errorf("set dialog state: %w", err)
	}

	return nil
}

func scanSubscriber(row pgx.Row) (model.Subscriber, error) {
	var (
		sub             model.Subscriber
		cohort          string
		tier            string
		dialogState     string
		lastDeliveredOn *time.Time
		chargeID        *string
		chargeTier      *string
		chargeAmount    *int64
	)

	err := row.Scan(
		&sub.ID,
		&sub.RegisteredAt,
		&cohort,
		&sub.TrialStartedAt,
		&tier,
		&sub.ExpiresAt,
		&lastDeliveredOn,
		&chargeID,
		&chargeTier,
		&chargeAmount,
		&dialogState,
	)
	if err != nil {
		return model.Subscriber{}, err
	}

	sub.Cohort = enums.Cohort(cohort)
	sub.Tier = enums.Tier(tier)
	sub.DialogState = enums.DialogState(dialogState)
	if lastDeliveredOn != nil {
		sub.LastDeliveredOn = lastDeliveredOn.Format("2006-01-02")
	}
	if chargeID != nil && chargeTier != nil && chargeAmount != nil {
		sub.PendingCharge = &model.PendingCharge{
			ChargeID:    *chargeID,
			Tier:        enums.Tier(*chargeTier),
			AmountMinor: *chargeAmount,
		}
	}

	return sub, nil
}
