package claimstatus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/pkg/pagination"
)

const (
	DefaultQueryLimit = pagination.DefaultLimit
	MaxQueryLimit     = pagination.MaxLimit
	DefaultStaleDays  = 30
	MinStaleDays      = 1
	MaxStaleDays      = 365
)

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	StaleDaysDefault int
	BatchWorkers     int
	Now              func() time.Time
	Logger           *zerolog.Logger
	Metrics          *Metrics
}

// Service is the claim status engine. It holds no locks: every transition is a
// single read followed by one atomic store update.
type Service struct {
	store     ClaimStore
	now       func() time.Time
	log       zerolog.Logger
	metrics   *Metrics
	staleDays int
	workers   int
}

func NewService(store ClaimStore, opts Options) *Service {
	s := &Service{
		store:     store,
		now:       opts.Now,
		log:       zerolog.Nop(),
		metrics:   opts.Metrics,
		staleDays: opts.StaleDaysDefault,
		workers:   opts.BatchWorkers,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("component", "claimstatus").Logger()
	}
	if s.staleDays < MinStaleDays || s.staleDays > MaxStaleDays {
		s.staleDays = DefaultStaleDays
	}
	if s.workers < 1 {
		s.workers = 1
	}
	return s
}

// UpdateResult is returned by every successful transition.
type UpdateResult struct {
	Claim       *Claim       `json:"claim"`
	StatusEntry *StatusEntry `json:"statusEntry"`
}

// UpdateClaimStatus moves a claim to newStatus, appending a history entry.
// Any status may follow any other; only the payload requirements of the
// target status are enforced.
func (s *Service) UpdateClaimStatus(ctx context.Context, claimID uuid.UUID, newStatus Status, payload StatusPayload, actorID string) (*UpdateResult, error) {
	source, err := checkTransition(newStatus, &payload, actorID)
	if err != nil {
		return nil, err
	}
	claim, err := s.store.FindByID(ctx, claimID)
	if err != nil {
		return nil, storageErr("find claim", err)
	}
	return s.apply(ctx, claim, newStatus, payload, source, actorID)
}

func checkTransition(newStatus Status, payload *StatusPayload, actorID string) (Source, error) {
	if !newStatus.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}
	source, err := parseSource(payload.Source)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(actorID) == "" {
		return "", &ValidationError{Field: "actorId", Message: "is required"}
	}
	if err := payload.validateFor(newStatus); err != nil {
		return "", err
	}
	return source, nil
}

// apply builds the entry and patch for a validated transition and persists it.
func (s *Service) apply(ctx context.Context, claim *Claim, newStatus Status, payload StatusPayload, source Source, actorID string) (*UpdateResult, error) {
	claimID := claim.ID
	now := s.now().UTC()
	entry := StatusEntry{
		ID:              uuid.New(),
		Status:          newStatus,
		Timestamp:       now,
		Reason:          payload.Reason,
		Notes:           payload.Notes,
		Source:          source,
		ActorID:         actorID,
		ReferenceNumber: payload.ReferenceNumber,
		StatusCode:      payload.StatusCode,
	}
	patch := &ClaimPatch{
		Status:           newStatus,
		LastStatusUpdate: now,
	}
	if claim.LastStatusUpdate.After(now) {
		patch.LastStatusUpdate = claim.LastStatusUpdate
	}

	switch {
	case newStatus.isPayment():
		entry.PaymentAmount = payload.PaymentAmount
		entry.PaymentDate = payload.PaymentDate.ptr()
		entry.CheckNumber = payload.CheckNumber
		entry.ERAReference = payload.ERAReference
		patch.PaymentInfo = &PaymentInfo{
			Amount:       *payload.PaymentAmount,
			Date:         payload.PaymentDate.Time,
			CheckNumber:  payload.CheckNumber,
			ERAReference: payload.ERAReference,
		}
	case newStatus == StatusDenied:
		entry.DenialReason = payload.DenialReason
		entry.DenialCode = payload.DenialCode
		entry.Appealable = payload.Appealable
		patch.DenialInfo = &DenialInfo{
			Reason:     payload.DenialReason,
			Code:       payload.DenialCode,
			Appealable: payload.Appealable != nil && *payload.Appealable,
		}
	case newStatus == StatusPended:
		entry.PendReason = payload.PendReason
		entry.RequestedInfo = payload.RequestedInfo
		entry.ResponseDeadline = payload.ResponseDeadline.ptr()
		patch.PendInfo = &PendInfo{
			Reason:           payload.PendReason,
			RequestedInfo:    payload.RequestedInfo,
			ResponseDeadline: payload.ResponseDeadline.ptr(),
		}
	}
	patch.Entry = entry

	updated, err := s.store.Update(ctx, claimID, patch)
	if err != nil {
		return nil, storageErr("update claim", err)
	}

	s.metrics.observeTransition(newStatus, source)
	s.log.Debug().
		Str("claim_id", claimID.String()).
		Str("from", string(claim.Status)).
		Str("status", string(newStatus)).
		Str("source", string(source)).
		Str("actor_id", actorID).
		Msg("claim status updated")

	return &UpdateResult{Claim: updated, StatusEntry: &entry}, nil
}

// MarkPaid records a full payment.
func (s *Service) MarkPaid(ctx context.Context, claimID uuid.UUID, payload StatusPayload, actorID string) (*UpdateResult, error) {
	if err := payload.validateFor(StatusPaid); err != nil {
		return nil, err
	}
	return s.UpdateClaimStatus(ctx, claimID, StatusPaid, payload, actorID)
}

// MarkDenied records a payer denial.
func (s *Service) MarkDenied(ctx context.Context, claimID uuid.UUID, payload StatusPayload, actorID string) (*UpdateResult, error) {
	if err := payload.validateFor(StatusDenied); err != nil {
		return nil, err
	}
	if payload.Reason == "" {
		payload.Reason = payload.DenialReason
	}
	return s.UpdateClaimStatus(ctx, claimID, StatusDenied, payload, actorID)
}

// PendClaim marks a claim as waiting on requested information.
func (s *Service) PendClaim(ctx context.Context, claimID uuid.UUID, payload StatusPayload, actorID string) (*UpdateResult, error) {
	if err := payload.validateFor(StatusPended); err != nil {
		return nil, err
	}
	if payload.Reason == "" {
		payload.Reason = payload.PendReason
	}
	return s.UpdateClaimStatus(ctx, claimID, StatusPended, payload, actorID)
}

// GetStatusHistory returns the claim's history in insertion order.
func (s *Service) GetStatusHistory(ctx context.Context, claimID uuid.UUID) ([]StatusEntry, error) {
	claim, err := s.store.FindByID(ctx, claimID)
	if err != nil {
		return nil, storageErr("find claim", err)
	}
	history := make([]StatusEntry, len(claim.StatusHistory))
	copy(history, claim.StatusHistory)
	return history, nil
}

// Elapsed is a duration rendered for display.
type Elapsed struct {
	Seconds int64  `json:"seconds"`
	Human   string `json:"human"`
}

func newElapsed(d time.Duration) *Elapsed {
	if d < 0 {
		d = 0
	}
	return &Elapsed{Seconds: int64(d / time.Second), Human: humanDuration(d)}
}

func humanDuration(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// TimelineEntry annotates a history entry with elapsed times.
type TimelineEntry struct {
	StatusEntry
	SincePrevious   *Elapsed `json:"sincePrevious,omitempty"`
	SinceSubmission *Elapsed `json:"sinceSubmission,omitempty"`
}

// Timeline is the display projection of a claim's history.
type Timeline struct {
	ClaimID       uuid.UUID       `json:"claimId"`
	ClaimNumber   string          `json:"claimNumber"`
	CurrentStatus Status          `json:"currentStatus"`
	SubmittedAt   *time.Time      `json:"submittedAt,omitempty"`
	Entries       []TimelineEntry `json:"entries"`
}

// GetStatusTimeline projects history into a timeline. SinceSubmission is
// measured from the first submitted entry and is absent before it.
func (s *Service) GetStatusTimeline(ctx context.Context, claimID uuid.UUID) (*Timeline, error) {
	claim, err := s.store.FindByID(ctx, claimID)
	if err != nil {
		return nil, storageErr("find claim", err)
	}

	tl := &Timeline{
		ClaimID:       claim.ID,
		ClaimNumber:   claim.ClaimNumber,
		CurrentStatus: claim.Status,
		Entries:       make([]TimelineEntry, 0, len(claim.StatusHistory)),
	}
	for i, e := range claim.StatusHistory {
		if tl.SubmittedAt == nil && e.Status == StatusSubmitted {
			ts := e.Timestamp
			tl.SubmittedAt = &ts
		}
		te := TimelineEntry{StatusEntry: e}
		if i > 0 {
			te.SincePrevious = newElapsed(e.Timestamp.Sub(claim.StatusHistory[i-1].Timestamp))
		}
		if tl.SubmittedAt != nil {
			te.SinceSubmission = newElapsed(e.Timestamp.Sub(*tl.SubmittedAt))
		}
		tl.Entries = append(tl.Entries, te)
	}
	return tl, nil
}

// StatusQuery holds the optional filters of GetClaimsByStatus.
type StatusQuery struct {
	PayerID    string
	ProviderID string
	DateField  DateField
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
}

// GetClaimsByStatus returns claims in status, most recently updated first.
func (s *Service) GetClaimsByStatus(ctx context.Context, status Status, q StatusQuery) ([]*Claim, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if q.Limit == 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit < 1 || q.Limit > MaxQueryLimit {
		return nil, &ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxQueryLimit)}
	}
	switch q.DateField {
	case "":
		q.DateField = DateFieldLastStatusUpdate
	case DateFieldLastStatusUpdate, DateFieldServiceDate:
	default:
		return nil, &ValidationError{Field: "dateField", Message: fmt.Sprintf("unknown date field %q", q.DateField)}
	}
	if q.DateFrom != nil && q.DateTo != nil && q.DateFrom.After(*q.DateTo) {
		return nil, &ValidationError{Field: "dateFrom", Message: "must not be after dateTo"}
	}

	claims, err := s.store.Query(ctx, ClaimFilter{
		Statuses:   []Status{status},
		PayerID:    q.PayerID,
		ProviderID: q.ProviderID,
		DateField:  q.DateField,
		DateFrom:   q.DateFrom,
		DateTo:     q.DateTo,
		Limit:      q.Limit,
	})
	if err != nil {
		return nil, storageErr("query claims", err)
	}
	sort.SliceStable(claims, func(i, j int) bool {
		return claims[i].LastStatusUpdate.After(claims[j].LastStatusUpdate)
	})
	return claims, nil
}
