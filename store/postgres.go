package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"offerflow/workflow"
)

// DB abstracts pgxpool.Pool for testability.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

const requestColumns = `id, tenant_id, requester_id, kind, title, criteria, budget_min, budget_max, currency,
    status, offer_count, accepted_offer_id, cancel_reason, version, created_at, closed_at`

const offerColumns = `id, request_id, provider_id, price, currency, terms, status, submitted_at, updated_at, responded_at`

const engagementColumns = `id, request_id, offer_id, requester_id, provider_id, amount, currency, created_at`

func (p *Postgres) CreateRequest(ctx context.Context, req workflow.Request) (workflow.Request, error) {
	const query = `
        INSERT INTO requests (id, tenant_id, requester_id, kind, title, criteria, budget_min, budget_max, currency,
            status, offer_count, accepted_offer_id, cancel_reason, version, created_at, closed_at)
        VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
        RETURNING ` + requestColumns

	if req.Version == 0 {
		req.Version = 1
	}
	row := p.db.QueryRow(ctx, query,
		req.ID,
		req.TenantID,
		req.RequesterID,
		req.Kind,
		req.Title,
		jsonArg(req.Criteria),
		req.BudgetMin,
		req.BudgetMax,
		req.Currency,
		req.Status,
		req.OfferCount,
		req.AcceptedOfferID,
		req.CancelReason,
		req.Version,
		req.CreatedAt,
		req.ClosedAt,
	)
	created, err := scanRequest(row)
	if err != nil {
		return workflow.Request{}, fmt.Errorf("store: insert request: %w", err)
	}
	return created, nil
}

func (p *Postgres) GetRequest(ctx context.Context, id string) (workflow.Request, error) {
	row := p.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if isMissing(err) {
			return workflow.Request{}, workflow.ErrNotFound
		}
		return workflow.Request{}, fmt.Errorf("store: get request: %w", err)
	}
	return req, nil
}

func (p *Postgres) ListOpenByKind(ctx context.Context, kind workflow.Kind) ([]workflow.Request, error) {
	const query = `SELECT ` + requestColumns + `
        FROM requests
        WHERE kind = $1 AND status IN ('open', 'negotiating')
        ORDER BY created_at ASC, id ASC`
	return p.listRequests(ctx, query, kind)
}

func (p *Postgres) ListByRequester(ctx context.Context, requesterID string) ([]workflow.Request, error) {
	const query = `SELECT ` + requestColumns + `
        FROM requests
        WHERE requester_id = $1
        ORDER BY created_at DESC, id DESC`
	return p.listRequests(ctx, query, requesterID)
}

func (p *Postgres) listRequests(ctx context.Context, query string, arg any) ([]workflow.Request, error) {
	rows, err := p.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("store: query requests: %w", err)
	}
	defer rows.Close()

	list := []workflow.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan request: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate requests: %w", err)
	}
	return list, nil
}

func (p *Postgres) CreateOffer(ctx context.Context, offer workflow.Offer, parent Update) (workflow.Offer, error) {
	if offer.RequestID != parent.Request.ID {
		return workflow.Offer{}, fmt.Errorf("store: offer %s does not belong to request %s", offer.ID, parent.Request.ID)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return workflow.Offer{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := updateRequest(ctx, tx, parent); err != nil {
		return workflow.Offer{}, err
	}

	const query = `
        INSERT INTO offers (id, request_id, provider_id, price, currency, terms, status, submitted_at, updated_at, responded_at)
        VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)
        RETURNING ` + offerColumns
	row := tx.QueryRow(ctx, query,
		offer.ID,
		offer.RequestID,
		offer.ProviderID,
		offer.Price,
		offer.Currency,
		jsonArg(offer.Terms),
		offer.Status,
		offer.SubmittedAt,
		offer.UpdatedAt,
		offer.RespondedAt,
	)
	created, err := scanOffer(row)
	if err != nil {
		if isUniqueViolation(err, "offers_one_live_per_provider") {
			return workflow.Offer{}, workflow.ErrDuplicateOffer
		}
		return workflow.Offer{}, fmt.Errorf("store: insert offer: %w", err)
	}

	if err := insertEvents(ctx, tx, parent.Events); err != nil {
		return workflow.Offer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return workflow.Offer{}, fmt.Errorf("store: commit tx: %w", err)
	}
	return created, nil
}

func (p *Postgres) GetOffer(ctx context.Context, id string) (workflow.Offer, error) {
	row := p.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	offer, err := scanOffer(row)
	if err != nil {
		if isMissing(err) {
			return workflow.Offer{}, workflow.ErrNotFound
		}
		return workflow.Offer{}, fmt.Errorf("store: get offer: %w", err)
	}
	return offer, nil
}

func (p *Postgres) ListOffersForRequest(ctx context.Context, requestID string) ([]workflow.Offer, error) {
	const query = `SELECT ` + offerColumns + ` FROM offers WHERE request_id = $1 ORDER BY submitted_at ASC, seq ASC`
	return p.listOffers(ctx, query, requestID)
}

func (p *Postgres) ListOffersByProvider(ctx context.Context, providerID string) ([]workflow.Offer, error) {
	const query = `SELECT ` + offerColumns + ` FROM offers WHERE provider_id = $1 ORDER BY submitted_at DESC, seq DESC`
	return p.listOffers(ctx, query, providerID)
}

func (p *Postgres) listOffers(ctx context.Context, query string, arg any) ([]workflow.Offer, error) {
	rows, err := p.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("store: query offers: %w", err)
	}
	defer rows.Close()

	list := []workflow.Offer{}
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan offer: %w", err)
		}
		list = append(list, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate offers: %w", err)
	}
	return list, nil
}

func (p *Postgres) UpdateRequestWithVersionCheck(ctx context.Context, u Update) (workflow.Request, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return workflow.Request{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := updateRequest(ctx, tx, u)
	if err != nil {
		return workflow.Request{}, err
	}

	const offerSQL = `
        UPDATE offers
        SET price = $3,
            terms = $4::jsonb,
            status = $5,
            updated_at = $6,
            responded_at = $7
        WHERE id = $1 AND request_id = $2`
	for _, offer := range u.Offers {
		tag, err := tx.Exec(ctx, offerSQL, offer.ID, u.Request.ID, offer.Price, jsonArg(offer.Terms), offer.Status, offer.UpdatedAt, offer.RespondedAt)
		if isMalformedID(err) {
			return workflow.Request{}, workflow.ErrNotFound
		}
		if err != nil {
			return workflow.Request{}, fmt.Errorf("store: update offer %s: %w", offer.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return workflow.Request{}, workflow.ErrNotFound
		}
	}

	if u.Engagement != nil {
		const engagementSQL = `
            INSERT INTO engagements (` + engagementColumns + `)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		e := u.Engagement
		if _, err := tx.Exec(ctx, engagementSQL, e.ID, e.RequestID, e.OfferID, e.RequesterID, e.ProviderID, e.Amount, e.Currency, e.CreatedAt); err != nil {
			if isUniqueViolation(err, "") {
				return workflow.Request{}, workflow.ErrConflict
			}
			return workflow.Request{}, fmt.Errorf("store: insert engagement: %w", err)
		}
	}

	if err := insertEvents(ctx, tx, u.Events); err != nil {
		return workflow.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return workflow.Request{}, fmt.Errorf("store: commit tx: %w", err)
	}
	return updated, nil
}

func (p *Postgres) GetEngagementByRequest(ctx context.Context, requestID string) (workflow.Engagement, error) {
	var e workflow.Engagement
	err := p.db.QueryRow(ctx, `SELECT `+engagementColumns+` FROM engagements WHERE request_id = $1`, requestID).Scan(
		&e.ID,
		&e.RequestID,
		&e.OfferID,
		&e.RequesterID,
		&e.ProviderID,
		&e.Amount,
		&e.Currency,
		&e.CreatedAt,
	)
	if err != nil {
		if isMissing(err) {
			return workflow.Engagement{}, workflow.ErrNotFound
		}
		return workflow.Engagement{}, fmt.Errorf("store: get engagement: %w", err)
	}
	return e, nil
}

func (p *Postgres) PendingEvents(ctx context.Context, limit int) ([]workflow.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
        SELECT id, topic, recipient_id, request_id, COALESCE(offer_id::text, ''), payload, occurred_at
        FROM outbox
        WHERE status = 'pending'
        ORDER BY seq ASC
        LIMIT $1`
	rows, err := p.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query outbox: %w", err)
	}
	defer rows.Close()

	list := []workflow.Event{}
	for rows.Next() {
		var ev workflow.Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.RecipientID, &ev.RequestID, &ev.OfferID, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("store: scan outbox: %w", err)
		}
		list = append(list, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate outbox: %w", err)
	}
	return list, nil
}

func (p *Postgres) MarkDelivered(ctx context.Context, eventID string) error {
	const query = `
        UPDATE outbox
        SET status = 'processed', attempts = attempts + 1, processed_at = now()
        WHERE id = $1`
	return p.markEvent(ctx, query, eventID)
}

func (p *Postgres) MarkDead(ctx context.Context, eventID string, reason string) error {
	const query = `
        UPDATE outbox
        SET status = 'dead', attempts = attempts + 1, last_error = $2, processed_at = now()
        WHERE id = $1`
	return p.markEvent(ctx, query, eventID, reason)
}

func (p *Postgres) markEvent(ctx context.Context, query string, args ...any) error {
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: mark outbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

// updateRequest applies the version-checked request write. Zero rows means
// either the request is gone or a concurrent writer bumped the version.
func updateRequest(ctx context.Context, tx pgx.Tx, u Update) (workflow.Request, error) {
	const query = `
        UPDATE requests
        SET status = $3,
            offer_count = $4,
            accepted_offer_id = $5,
            cancel_reason = $6,
            closed_at = $7,
            version = version + 1
        WHERE id = $1 AND version = $2
        RETURNING ` + requestColumns

	r := u.Request
	row := tx.QueryRow(ctx, query, r.ID, u.ExpectedVersion, r.Status, r.OfferCount, r.AcceptedOfferID, r.CancelReason, r.ClosedAt)
	updated, err := scanRequest(row)
	if err == nil {
		return updated, nil
	}
	if isMalformedID(err) {
		return workflow.Request{}, workflow.ErrNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return workflow.Request{}, fmt.Errorf("store: update request: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
		return workflow.Request{}, fmt.Errorf("store: check request: %w", err)
	}
	if !exists {
		return workflow.Request{}, workflow.ErrNotFound
	}
	return workflow.Request{}, workflow.ErrConflict
}

func insertEvents(ctx context.Context, tx pgx.Tx, events []workflow.Event) error {
	const query = `
        INSERT INTO outbox (id, topic, recipient_id, request_id, offer_id, payload, occurred_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6::jsonb, $7)`
	for _, ev := range events {
		if _, err := tx.Exec(ctx, query, ev.ID, ev.Type, ev.RecipientID, ev.RequestID, ev.OfferID, jsonArg(ev.Payload), ev.OccurredAt); err != nil {
			return fmt.Errorf("store: enqueue outbox: %w", err)
		}
	}
	return nil
}

func scanRequest(row pgx.Row) (workflow.Request, error) {
	var req workflow.Request
	var criteria []byte
	err := row.Scan(
		&req.ID,
		&req.TenantID,
		&req.RequesterID,
		&req.Kind,
		&req.Title,
		&criteria,
		&req.BudgetMin,
		&req.BudgetMax,
		&req.Currency,
		&req.Status,
		&req.OfferCount,
		&req.AcceptedOfferID,
		&req.CancelReason,
		&req.Version,
		&req.CreatedAt,
		&req.ClosedAt,
	)
	req.Criteria = criteria
	return req, err
}

func scanOffer(row pgx.Row) (workflow.Offer, error) {
	var offer workflow.Offer
	var terms []byte
	err := row.Scan(
		&offer.ID,
		&offer.RequestID,
		&offer.ProviderID,
		&offer.Price,
		&offer.Currency,
		&terms,
		&offer.Status,
		&offer.SubmittedAt,
		&offer.UpdatedAt,
		&offer.RespondedAt,
	)
	offer.Terms = terms
	return offer, err
}

// isMissing reports a lookup that cannot match a row: no rows, or an id
// that does not parse as a uuid.
func isMissing(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || isMalformedID(err)
}

// isMalformedID reports SQLSTATE 22P02, which PostgreSQL raises when a
// non-uuid string is compared with a uuid column.
func isMalformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// jsonArg passes JSON payloads as text so the ::jsonb cast applies; nil
// becomes an empty object.
func jsonArg(b []byte) string {
	if len(b) == 0 {
		return "{}"
	}
	return string(b)
}
