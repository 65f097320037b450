package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docsync/internal/domain"
	"docsync/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const jobColumns = `
	id, integration_id, kind, status, priority, scheduled_at,
	attempts, max_attempts, COALESCE(last_error,''), data, result,
	started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID, &j.IntegrationID, &j.Kind, &j.Status, &j.Priority, &j.ScheduledAt,
		&j.Attempts, &j.MaxAttempts, &j.LastError, &j.Data, &j.Result,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

// SelectEligibleJobs returns pending jobs due to run, ordered by
// (priority, scheduled_at). Jobs whose integration already has a running
// job of the same kind are skipped so concurrent refreshes against the
// same integration cannot be scheduled together.
func (s *Store) SelectEligibleJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs j
		WHERE j.status='pending' AND j.scheduled_at <= $1 AND j.attempts < j.max_attempts
		  AND NOT EXISTS (
			SELECT 1 FROM jobs r
			WHERE r.integration_id = j.integration_id AND r.kind = j.kind AND r.status='running'
		  )
		ORDER BY j.priority ASC, j.scheduled_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClaimJob atomically moves a pending job into running, incrementing its
// attempts counter. Returns the post-claim attempts and whether the claim
// won; a concurrent scheduler losing the race gets ok=false.
func (s *Store) ClaimJob(ctx context.Context, jobID string, now time.Time) (int, bool, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE jobs
		SET status='running', attempts=attempts+1, started_at=$2, updated_at=$2
		WHERE id=$1 AND status='pending'
		RETURNING attempts
	`, jobID, now)
	var attempts int
	if err := row.Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return attempts, true, nil
}

func (s *Store) CompleteJob(ctx context.Context, in store.JobComplete) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE jobs
		SET status='completed', result=$2, last_error=NULL, completed_at=$3, updated_at=$3
		WHERE id=$1
	`, in.ID, in.Result, in.Now)
	return err
}

func (s *Store) RescheduleJob(ctx context.Context, in store.JobReschedule) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE jobs
		SET status='pending', scheduled_at=$2, last_error=$3, result=NULL, updated_at=$4
		WHERE id=$1
	`, in.ID, in.RunAt, in.LastError, in.Now)
	return err
}

func (s *Store) FailJob(ctx context.Context, in store.JobFail) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE jobs
		SET status='failed', last_error=$2, completed_at=$3, updated_at=$3
		WHERE id=$1
	`, in.ID, in.LastError, in.Now)
	return err
}

func (s *Store) InsertJob(ctx context.Context, in store.JobInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO jobs (id, integration_id, kind, status, priority, scheduled_at, attempts, max_attempts, data, created_at, updated_at)
		VALUES ($1,$2,$3,'pending',$4,$5,0,$6,$7,$8,$8)
	`, in.ID, in.IntegrationID, in.Kind, in.Priority, in.ScheduledAt, in.MaxAttempts, in.Data, in.Now)
	return err
}

// InsertJobIfAbsent inserts a job unless the integration already has a
// pending or running job of the same kind. Used by the refresh sweep so
// token refreshes are never double-queued.
func (s *Store) InsertJobIfAbsent(ctx context.Context, in store.JobInsert) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO jobs (id, integration_id, kind, status, priority, scheduled_at, attempts, max_attempts, data, created_at, updated_at)
		SELECT $1,$2,$3,'pending',$4,$5,0,$6,$7,$8,$8
		WHERE NOT EXISTS (
			SELECT 1 FROM jobs
			WHERE integration_id=$2 AND kind=$3 AND status IN ('pending','running')
		)
	`, in.ID, in.IntegrationID, in.Kind, in.Priority, in.ScheduledAt, in.MaxAttempts, in.Data, in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (domain.Job, bool, error) {
	j, err := scanJob(s.DB.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE id=$1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, err
	}
	return j, true, nil
}

func (s *Store) ListJobs(ctx context.Context, f store.JobFilter) ([]domain.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs j WHERE 1=1`
	args := []any{}
	if f.IntegrationID != "" {
		args = append(args, f.IntegrationID)
		q += ` AND integration_id=$` + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		q += ` AND status=$` + strconv.Itoa(len(args))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		q += ` AND kind=$` + strconv.Itoa(len(args))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	q += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

const integrationColumns = `
	id, user_id, provider, COALESCE(channel_key,''), settings,
	COALESCE(access_token,''), COALESCE(refresh_token,''), token_expiry,
	active, last_synced_at, created_at, updated_at`

func scanIntegration(row pgx.Row) (domain.Integration, error) {
	var in domain.Integration
	var settings []byte
	err := row.Scan(
		&in.ID, &in.UserID, &in.Provider, &in.ChannelKey, &settings,
		&in.AccessToken, &in.RefreshToken, &in.TokenExpiry,
		&in.Active, &in.LastSyncedAt, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return domain.Integration{}, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &in.Settings); err != nil {
			return domain.Integration{}, fmt.Errorf("integration %s settings: %w", in.ID, err)
		}
	}
	return in, nil
}

func (s *Store) GetIntegration(ctx context.Context, id string) (domain.Integration, bool, error) {
	in, err := scanIntegration(s.DB.QueryRow(ctx, `
		SELECT `+integrationColumns+` FROM integrations WHERE id=$1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Integration{}, false, nil
		}
		return domain.Integration{}, false, err
	}
	return in, true, nil
}

// FindIntegrationByChannelKey resolves an inbound webhook's channel
// identifier (chat id, phone-number id) to its single active integration.
func (s *Store) FindIntegrationByChannelKey(ctx context.Context, provider domain.ProviderType, key string) (domain.Integration, bool, error) {
	in, err := scanIntegration(s.DB.QueryRow(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE provider=$1 AND channel_key=$2 AND active
	`, provider, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Integration{}, false, nil
		}
		return domain.Integration{}, false, err
	}
	return in, true, nil
}

func (s *Store) UpdateIntegrationTokens(ctx context.Context, in store.TokenUpdate) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE integrations
		SET access_token=$2, refresh_token=$3, token_expiry=$4, active=true, updated_at=$5
		WHERE id=$1
	`, in.IntegrationID, in.AccessToken, in.RefreshToken, in.Expiry, in.Now)
	return err
}

// DeactivateIntegration soft-disables an integration and clears its
// tokens, keeping the access-token/expiry invariant (both absent).
func (s *Store) DeactivateIntegration(ctx context.Context, id string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE integrations
		SET active=false, access_token=NULL, refresh_token=NULL, token_expiry=NULL, updated_at=$2
		WHERE id=$1
	`, id, now)
	return err
}

func (s *Store) TouchLastSynced(ctx context.Context, id string, syncedAt, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE integrations SET last_synced_at=$2, updated_at=$3 WHERE id=$1
	`, id, syncedAt, now)
	return err
}

// ListExpiringTokenIntegrations returns active integrations whose access
// token expires within the lead window and that hold a refresh token.
func (s *Store) ListExpiringTokenIntegrations(ctx context.Context, now time.Time, lead time.Duration) ([]domain.Integration, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+integrationColumns+` FROM integrations
		WHERE active AND refresh_token IS NOT NULL AND refresh_token <> ''
		  AND token_expiry IS NOT NULL AND token_expiry <= $1
	`, now.Add(lead))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) InsertDocument(ctx context.Context, in store.DocumentInsert) error {
	prov, err := json.Marshal(in.Provenance)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO documents (id, owner_id, integration_id, filename, mime_type, storage_key, size_bytes, channel, provenance, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, in.ID, in.OwnerID, in.IntegrationID, in.Filename, in.MIME, in.StorageKey, in.Size, in.Channel, prov, in.Now)
	return err
}

func (s *Store) InsertAuditEntry(ctx context.Context, in store.AuditInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO audit_log (integration_id, user_id, event, detail, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, nullIfEmpty(in.IntegrationID), nullIfEmpty(in.UserID), in.Event, in.Detail, in.Now)
	return err
}

// ClaimInboundAttachment records that an attachment of a provider message
// is being ingested. Returns false when a previous delivery already
// claimed it, making webhook redeliveries idempotent.
func (s *Store) ClaimInboundAttachment(ctx context.Context, in store.ReceiptClaim) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO inbound_receipts (provider, message_id, attachment_handle, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (provider, message_id, attachment_handle) DO NOTHING
	`, in.Provider, in.MessageID, in.AttachmentHandle, in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
