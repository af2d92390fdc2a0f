// Package store owns the durable campaign and job state. It is the single
// source of truth: the scheduler and delivery worker only hold transient
// references to rows owned here. The one hard guarantee it provides is the
// atomic claim: a pending job moves to in-flight exactly once, even under
// concurrent ticks or processes, via FOR UPDATE SKIP LOCKED plus a status
// compare on every commit.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sanskar85/whatsapp-api/internal/core"
	"github.com/sanskar85/whatsapp-api/internal/pacing"
	"github.com/sanskar85/whatsapp-api/internal/resolver"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{DB: pool} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

const uniqueViolation = "23505"

// CreateCampaign persists the campaign definition and one job per resolved
// target in a single transaction. A name collision for the same owner
// yields core.ErrAlreadyExists.
func (s *Store) CreateCampaign(ctx context.Context, c core.Campaign, targets []resolver.Target) (string, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// pgx encodes a nil slice as SQL NULL; the array columns are NOT NULL.
	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO campaigns(
			owner_id, name, source_type, message, variables, attachments, contact_cards,
			min_delay_seconds, max_delay_seconds, batch_size, batch_delay_seconds,
			start_time, end_time, status)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'scheduled')
		RETURNING id
	`, c.OwnerID, c.Name, c.SourceType, c.Message, orEmpty(c.Variables), orEmpty(c.Attachments),
		orEmpty(c.ContactCards), c.MinDelaySec, c.MaxDelaySec, c.BatchSize, c.BatchDelaySec,
		c.StartTime, c.EndTime).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", core.ErrAlreadyExists
		}
		return "", fmt.Errorf("insert campaign: %w", err)
	}

	batch := &pgx.Batch{}
	for _, t := range targets {
		vars, err := json.Marshal(t.Variables)
		if err != nil {
			return "", fmt.Errorf("encode variables: %w", err)
		}
		batch.Queue(`INSERT INTO jobs(campaign_id, recipient, variables) VALUES($1,$2,$3)`, id, t.Address, vars)
	}
	br := tx.SendBatch(ctx, batch)
	for range targets {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return "", fmt.Errorf("insert job: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return "", err
	}

	return id, tx.Commit(ctx)
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

const campaignColumns = `id, owner_id, name, source_type, message, variables, attachments, contact_cards,
	min_delay_seconds, max_delay_seconds, batch_size, batch_delay_seconds,
	start_time, end_time, status, batch_sent, next_eligible_at, created_at`

func scanCampaign(row pgx.Row) (core.Campaign, error) {
	var c core.Campaign
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.SourceType, &c.Message, &c.Variables,
		&c.Attachments, &c.ContactCards, &c.MinDelaySec, &c.MaxDelaySec, &c.BatchSize,
		&c.BatchDelaySec, &c.StartTime, &c.EndTime, &c.Status, &c.BatchSent,
		&c.NextEligibleAt, &c.CreatedAt)
	return c, err
}

func (s *Store) CampaignByID(ctx context.Context, owner, id string) (core.Campaign, error) {
	c, err := scanCampaign(s.DB.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id=$1 AND owner_id=$2`, id, owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Campaign{}, core.ErrNotFound
	}
	return c, err
}

// ListSchedulable returns campaigns the tick may advance, oldest first so
// every tenant's campaign gets a fair slot each tick.
func (s *Store) ListSchedulable(ctx context.Context) ([]core.Campaign, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status IN ('scheduled','running')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) MarkRunning(ctx context.Context, campaignID string) error {
	_, err := s.DB.Exec(ctx,
		`UPDATE campaigns SET status='running' WHERE id=$1 AND status='scheduled'`, campaignID)
	return err
}

// ClaimNextJob atomically claims the oldest pending job of a running
// campaign and persists the advanced pacing cursor in the same transaction.
// It returns (nil, nil) when the campaign is not running anymore (pause and
// delete win the race here: the campaign row is locked before any job is
// touched), its cursor is not yet eligible (two overlapping ticks, or a
// second scheduler, re-read the row under the lock and the loser leaves
// empty-handed) or it has no pending jobs.
func (s *Store) ClaimNextJob(ctx context.Context, campaignID string, next pacing.Cursor) (*core.Job, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status core.CampaignStatus
	var eligible bool
	err = tx.QueryRow(ctx,
		`SELECT status, next_eligible_at <= now() FROM campaigns WHERE id=$1 FOR UPDATE`,
		campaignID).Scan(&status, &eligible)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != core.CampaignRunning || !eligible {
		return nil, tx.Commit(ctx)
	}

	var j core.Job
	var vars []byte
	err = tx.QueryRow(ctx, `
		UPDATE jobs SET status='inflight', claimed_at=now(), attempted_at=now(), attempts=attempts+1
		WHERE id = (
			SELECT id FROM jobs
			WHERE campaign_id=$1 AND status='pending'
			ORDER BY seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, campaign_id, seq, recipient, variables, status, attempts, claimed_at, attempted_at, created_at
	`, campaignID).Scan(&j.ID, &j.CampaignID, &j.Seq, &j.Recipient, &vars, &j.Status,
		&j.Attempts, &j.ClaimedAt, &j.AttemptedAt, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tx.Commit(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &j.Variables); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `UPDATE campaigns SET batch_sent=$2, next_eligible_at=$3 WHERE id=$1`,
		campaignID, next.BatchSent, next.NextEligible)
	if err != nil {
		return nil, err
	}

	return &j, tx.Commit(ctx)
}

func (s *Store) MarkSent(ctx context.Context, jobID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE jobs SET status='sent', completed_at=now(), error=NULL
		WHERE id=$1 AND status='inflight'`, jobID)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, jobID, reason string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE jobs SET status='failed', completed_at=now(), error=$2
		WHERE id=$1 AND status='inflight'`, jobID, reason)
	return err
}

// ReleaseJob returns an in-flight job to pending, e.g. when the transport
// turned out not to be ready after the claim.
func (s *Store) ReleaseJob(ctx context.Context, jobID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE jobs SET status='pending', claimed_at=NULL
		WHERE id=$1 AND status='inflight'`, jobID)
	return err
}

// RecoverStaleClaims reverts in-flight jobs whose claim is older than the
// dead-attempt threshold. Run once before the loop starts so a crashed
// process never strands work.
func (s *Store) RecoverStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE jobs SET status='pending', claimed_at=NULL
		WHERE status='inflight' AND claimed_at < now() - $1::interval`, olderThan.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) InFlightCount(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE campaign_id=$1 AND status='inflight'`, campaignID).Scan(&n)
	return n, err
}

// CompleteCampaign transitions a drained running campaign to completed. The
// NOT EXISTS guard makes it a no-op while anything is pending or in flight.
func (s *Store) CompleteCampaign(ctx context.Context, campaignID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status='completed'
		WHERE id=$1 AND status='running'
		  AND NOT EXISTS (
			SELECT 1 FROM jobs WHERE campaign_id=$1 AND status IN ('pending','inflight')
		  )`, campaignID)
	return err
}

func (s *Store) Pause(ctx context.Context, owner, campaignID string) error {
	return s.transition(ctx, owner, campaignID, core.CampaignPaused,
		core.CampaignScheduled, core.CampaignRunning)
}

func (s *Store) Resume(ctx context.Context, owner, campaignID string) error {
	return s.transition(ctx, owner, campaignID, core.CampaignRunning, core.CampaignPaused)
}

// Delete cancels everything not yet attempted. Job rows are kept: sent and
// failed history stays visible in reports, and pending jobs are simply
// never claimable again.
func (s *Store) Delete(ctx context.Context, owner, campaignID string) error {
	return s.transition(ctx, owner, campaignID, core.CampaignDeleted,
		core.CampaignScheduled, core.CampaignRunning, core.CampaignPaused)
}

func (s *Store) transition(ctx context.Context, owner, campaignID string, to core.CampaignStatus, from ...core.CampaignStatus) error {
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	tag, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status=$3
		WHERE id=$1 AND owner_id=$2 AND status = ANY($4)`,
		campaignID, owner, to, allowed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id=$1 AND owner_id=$2)`,
		campaignID, owner).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return core.ErrNotFound
	}
	return core.ErrInvalidTransition
}

// Report aggregates live per-campaign counters for one owner. In-flight
// jobs count as pending: they have no outcome yet.
func (s *Store) Report(ctx context.Context, owner string) ([]core.CampaignReport, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT c.id, c.name, c.status,
			COUNT(*) FILTER (WHERE j.status = 'sent'),
			COUNT(*) FILTER (WHERE j.status = 'failed'),
			COUNT(*) FILTER (WHERE j.status IN ('pending','inflight'))
		FROM campaigns c
		LEFT JOIN jobs j ON j.campaign_id = c.id
		WHERE c.owner_id = $1 AND c.status <> 'deleted'
		GROUP BY c.id, c.name, c.status
		ORDER BY c.created_at
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.CampaignReport
	for rows.Next() {
		var r core.CampaignReport
		var status core.CampaignStatus
		if err := rows.Scan(&r.CampaignID, &r.CampaignName, &status, &r.Sent, &r.Failed, &r.Pending); err != nil {
			return nil, err
		}
		r.IsPaused = status == core.CampaignPaused
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReportRows lists per-recipient outcomes for a single campaign.
func (s *Store) ReportRows(ctx context.Context, owner, campaignID string) ([]core.ReportRow, error) {
	if _, err := s.CampaignByID(ctx, owner, campaignID); err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, `
		SELECT c.name, c.message, cardinality(c.attachments), cardinality(c.contact_cards),
			j.recipient, j.status, COALESCE(j.error, '')
		FROM jobs j
		JOIN campaigns c ON c.id = j.campaign_id
		WHERE j.campaign_id = $1
		ORDER BY j.seq
	`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ReportRow
	for rows.Next() {
		var r core.ReportRow
		var status core.JobStatus
		if err := rows.Scan(&r.CampaignName, &r.Message, &r.Attachments, &r.Contacts,
			&r.Receiver, &status, &r.Error); err != nil {
			return nil, err
		}
		if status == core.JobInFlight {
			status = core.JobPending
		}
		r.Status = string(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
