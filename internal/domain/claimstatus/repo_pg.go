package claimstatus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/claims/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type claimStorePG struct{ pool *pgxpool.Pool }

func NewClaimStorePG(pool *pgxpool.Pool) ClaimStore { return &claimStorePG{pool: pool} }

func (r *claimStorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const claimCols = `id, claim_number, patient_id, payer_id, provider_id, service_date,
	total_amount, status,
	payment_amount, payment_date, check_number, era_reference,
	denial_reason, denial_code, denial_appealable,
	pend_reason, pend_requested_info, pend_response_deadline,
	last_status_update, created_at, updated_at`

const historyCols = `id, status, changed_at, reason, notes, source, actor_id,
	reference_number, status_code,
	payment_amount, payment_date, check_number, era_reference,
	denial_reason, denial_code, appealable,
	pend_reason, requested_info, response_deadline`

func scanClaim(row pgx.Row) (*Claim, error) {
	var (
		c          Claim
		status     string
		payAmount  *float64
		payDate    *time.Time
		checkNo    *string
		eraRef     *string
		denReason  *string
		denCode    *string
		appealable *bool
		pendReason *string
		requested  *string
		deadline   *time.Time
	)
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.PatientID, &c.PayerID, &c.ProviderID, &c.ServiceDate,
		&c.TotalAmount, &status,
		&payAmount, &payDate, &checkNo, &eraRef,
		&denReason, &denCode, &appealable,
		&pendReason, &requested, &deadline,
		&c.LastStatusUpdate, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	if payAmount != nil && payDate != nil {
		c.PaymentInfo = &PaymentInfo{Amount: *payAmount, Date: *payDate, CheckNumber: deref(checkNo), ERAReference: deref(eraRef)}
	}
	if denReason != nil {
		c.DenialInfo = &DenialInfo{Reason: *denReason, Code: deref(denCode), Appealable: appealable != nil && *appealable}
	}
	if pendReason != nil {
		c.PendInfo = &PendInfo{Reason: *pendReason, RequestedInfo: deref(requested), ResponseDeadline: deadline}
	}
	return &c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scanEntry(row pgx.Row, claimID *uuid.UUID) (StatusEntry, error) {
	var (
		e              StatusEntry
		status, source string
	)
	dest := []interface{}{&e.ID, &status, &e.Timestamp, &e.Reason, &e.Notes, &source, &e.ActorID,
		&e.ReferenceNumber, &e.StatusCode,
		&e.PaymentAmount, &e.PaymentDate, &e.CheckNumber, &e.ERAReference,
		&e.DenialReason, &e.DenialCode, &e.Appealable,
		&e.PendReason, &e.RequestedInfo, &e.ResponseDeadline}
	if claimID != nil {
		dest = append([]interface{}{claimID}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return e, err
	}
	e.Status = Status(status)
	e.Source = Source(source)
	return e, nil
}

func (r *claimStorePG) FindByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	defer db.LockConn(ctx)()
	return r.findOne(ctx, r.conn(ctx), `id = $1`, id)
}

func (r *claimStorePG) FindByClaimNumber(ctx context.Context, number string) (*Claim, error) {
	defer db.LockConn(ctx)()
	return r.findOne(ctx, r.conn(ctx), `claim_number = $1`, number)
}

func (r *claimStorePG) findOne(ctx context.Context, q queryable, where string, arg interface{}) (*Claim, error) {
	c, err := scanClaim(q.QueryRow(ctx, `SELECT `+claimCols+` FROM claim WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadHistories(ctx, q, []*Claim{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// Update appends the entry and sets the claim fields in one transaction. The
// row lock taken by UPDATE orders concurrent writers, so history seq follows
// commit order and the claim row always reflects the last committed entry.
func (r *claimStorePG) Update(ctx context.Context, id uuid.UUID, p *ClaimPatch) (*Claim, error) {
	defer db.LockConn(ctx)()
	tx, err := r.conn(ctx).Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var payAmount *float64
	var payDate *time.Time
	var checkNo, eraRef *string
	if p.PaymentInfo != nil {
		payAmount, payDate = &p.PaymentInfo.Amount, &p.PaymentInfo.Date
		checkNo, eraRef = &p.PaymentInfo.CheckNumber, &p.PaymentInfo.ERAReference
	}
	var denReason, denCode *string
	var appealable *bool
	if p.DenialInfo != nil {
		denReason, denCode, appealable = &p.DenialInfo.Reason, &p.DenialInfo.Code, &p.DenialInfo.Appealable
	}
	var pendReason, requested *string
	var deadline *time.Time
	if p.PendInfo != nil {
		pendReason, requested, deadline = &p.PendInfo.Reason, &p.PendInfo.RequestedInfo, p.PendInfo.ResponseDeadline
	}

	tag, err := tx.Exec(ctx, `
		UPDATE claim SET status=$2, last_status_update=GREATEST(last_status_update, $3),
			payment_amount=$4, payment_date=$5, check_number=$6, era_reference=$7,
			denial_reason=$8, denial_code=$9, denial_appealable=$10,
			pend_reason=$11, pend_requested_info=$12, pend_response_deadline=$13,
			updated_at=NOW()
		WHERE id = $1`,
		id, string(p.Status), p.LastStatusUpdate,
		payAmount, payDate, checkNo, eraRef,
		denReason, denCode, appealable,
		pendReason, requested, deadline)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	e := p.Entry
	_, err = tx.Exec(ctx, `
		INSERT INTO claim_status_history (id, claim_id, status, changed_at, reason, notes, source, actor_id,
			reference_number, status_code,
			payment_amount, payment_date, check_number, era_reference,
			denial_reason, denial_code, appealable,
			pend_reason, requested_info, response_deadline)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		e.ID, id, string(e.Status), e.Timestamp, e.Reason, e.Notes, string(e.Source), e.ActorID,
		e.ReferenceNumber, e.StatusCode,
		e.PaymentAmount, e.PaymentDate, e.CheckNumber, e.ERAReference,
		e.DenialReason, e.DenialCode, e.Appealable,
		e.PendReason, e.RequestedInfo, e.ResponseDeadline)
	if err != nil {
		return nil, err
	}

	c, err := r.findOne(ctx, tx, `id = $1`, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *claimStorePG) Query(ctx context.Context, f ClaimFilter) ([]*Claim, error) {
	where, args := buildClaimWhere(f)
	sql := `SELECT ` + claimCols + ` FROM claim`
	if where != "" {
		sql += ` WHERE ` + where
	}
	sql += ` ORDER BY last_status_update DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	defer db.LockConn(ctx)()
	q := r.conn(ctx)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadHistories(ctx, q, items); err != nil {
		return nil, err
	}
	return items, nil
}

func buildClaimWhere(f ClaimFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.Statuses) > 0 {
		add(`status = ANY($%d)`, statusStrings(f.Statuses))
	}
	if len(f.ExcludeStatuses) > 0 {
		add(`NOT (status = ANY($%d))`, statusStrings(f.ExcludeStatuses))
	}
	if f.PayerID != "" {
		add(`payer_id = $%d`, f.PayerID)
	}
	if f.ProviderID != "" {
		add(`provider_id = $%d`, f.ProviderID)
	}
	col := "last_status_update"
	if f.DateField == DateFieldServiceDate {
		col = "service_date"
	}
	if f.DateFrom != nil {
		add(col+` >= $%d`, *f.DateFrom)
	}
	if f.DateTo != nil {
		add(col+` <= $%d`, *f.DateTo)
	}
	if f.UpdatedBefore != nil {
		add(`last_status_update < $%d`, *f.UpdatedBefore)
	}
	if f.UpdatedFrom != nil {
		add(`last_status_update >= $%d`, *f.UpdatedFrom)
	}
	return strings.Join(conds, " AND "), args
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func (r *claimStorePG) loadHistories(ctx context.Context, q queryable, claims []*Claim) error {
	if len(claims) == 0 {
		return nil
	}
	ids := make([]string, len(claims))
	byID := make(map[uuid.UUID]*Claim, len(claims))
	for i, c := range claims {
		ids[i] = c.ID.String()
		byID[c.ID] = c
		c.StatusHistory = []StatusEntry{}
	}

	rows, err := q.Query(ctx, `SELECT claim_id, `+historyCols+`
		FROM claim_status_history WHERE claim_id = ANY($1::uuid[]) ORDER BY claim_id, seq`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var claimID uuid.UUID
		e, err := scanEntry(rows, &claimID)
		if err != nil {
			return err
		}
		if c, ok := byID[claimID]; ok {
			c.StatusHistory = append(c.StatusHistory, e)
		}
	}
	return rows.Err()
}
