package claimstatus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	MaxInquiryClaims = 100
	MaxResponseItems = 1000
)

// BatchAbort reports a batch halted by a storage failure. Entries listed in
// Unprocessed were not applied and can be resubmitted.
type BatchAbort struct {
	Error       string   `json:"error"`
	Unprocessed []string `json:"unprocessed"`
}

// runBatch runs fn for each index. Indices sharing a key run in input order
// on one goroutine; distinct keys run on up to s.workers goroutines. A non-nil
// return from fn is fatal and stops all shards. processed reports which
// indices completed.
func (s *Service) runBatch(ctx context.Context, n int, key func(i int) string, fn func(ctx context.Context, i int) error) (processed []bool, fatal error) {
	processed = make([]bool, n)

	var order []string
	shards := make(map[string][]int)
	for i := 0; i < n; i++ {
		k := key(i)
		if _, ok := shards[k]; !ok {
			order = append(order, k)
		}
		shards[k] = append(shards[k], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, k := range order {
		idx := shards[k]
		g.Go(func() error {
			for _, i := range idx {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(gctx, i); err != nil {
					return err
				}
				processed[i] = true
			}
			return nil
		})
	}
	return processed, g.Wait()
}

// InquiryItem is one claim in a 276 status inquiry.
type InquiryItem struct {
	TraceNumber      string    `json:"traceNumber"`
	ClaimID          uuid.UUID `json:"claimId"`
	ClaimNumber      string    `json:"claimNumber"`
	PayerID          string    `json:"payerId"`
	ProviderID       string    `json:"providerId"`
	ServiceDate      time.Time `json:"serviceDate"`
	TotalAmount      float64   `json:"totalAmount"`
	CurrentStatus    Status    `json:"currentStatus"`
	LastStatusUpdate time.Time `json:"lastStatusUpdate"`
}

// InquiryError reports a claim id that could not be included.
type InquiryError struct {
	ClaimID string `json:"claimId"`
	Error   string `json:"error"`
}

// Inquiry is a generated 276 batch.
type Inquiry struct {
	BatchID     uuid.UUID      `json:"batchId"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Claims      []InquiryItem  `json:"claims"`
	Errors      []InquiryError `json:"errors"`
	Aborted     *BatchAbort    `json:"aborted,omitempty"`
}

// Generate276Inquiry builds an inquiry for 1 to MaxInquiryClaims claim ids.
// Unresolvable ids are reported per item; claim state is not touched.
func (s *Service) Generate276Inquiry(ctx context.Context, claimIDs []string) (*Inquiry, error) {
	if len(claimIDs) == 0 || len(claimIDs) > MaxInquiryClaims {
		return nil, &ValidationError{Field: "claimIds", Message: fmt.Sprintf("must contain 1 to %d ids", MaxInquiryClaims)}
	}

	batchID := uuid.New()
	items := make([]*InquiryItem, len(claimIDs))
	itemErrs := make([]*InquiryError, len(claimIDs))

	processed, fatal := s.runBatch(ctx, len(claimIDs),
		func(i int) string { return strings.ToLower(strings.TrimSpace(claimIDs[i])) },
		func(ctx context.Context, i int) error {
			raw := strings.TrimSpace(claimIDs[i])
			id, err := uuid.Parse(raw)
			if err != nil {
				itemErrs[i] = &InquiryError{ClaimID: claimIDs[i], Error: "invalid claim id"}
				return nil
			}
			claim, err := s.store.FindByID(ctx, id)
			if errors.Is(err, ErrNotFound) {
				itemErrs[i] = &InquiryError{ClaimID: claimIDs[i], Error: ErrNotFound.Error()}
				return nil
			}
			if err != nil {
				return storageErr("find claim", err)
			}
			items[i] = &InquiryItem{
				TraceNumber:      fmt.Sprintf("%s-%03d", strings.ToUpper(batchID.String()[:8]), i+1),
				ClaimID:          claim.ID,
				ClaimNumber:      claim.ClaimNumber,
				PayerID:          claim.PayerID,
				ProviderID:       claim.ProviderID,
				ServiceDate:      claim.ServiceDate,
				TotalAmount:      claim.TotalAmount,
				CurrentStatus:    claim.Status,
				LastStatusUpdate: claim.LastStatusUpdate,
			}
			return nil
		})

	inq := &Inquiry{
		BatchID:     batchID,
		GeneratedAt: s.now().UTC(),
		Claims:      []InquiryItem{},
		Errors:      []InquiryError{},
	}
	for i := range claimIDs {
		switch {
		case !processed[i]:
		case items[i] != nil:
			inq.Claims = append(inq.Claims, *items[i])
			s.metrics.observe276("included")
		case itemErrs[i] != nil:
			inq.Errors = append(inq.Errors, *itemErrs[i])
			s.metrics.observe276("error")
		}
	}
	if fatal != nil {
		inq.Aborted = s.abort(fatal, len(claimIDs), processed, func(i int) string { return claimIDs[i] })
	}
	return inq, nil
}

// ResponseEntry is one claim status line of a payer's 277 response.
// Payment fields are only read when the code maps to a paid status.
type ResponseEntry struct {
	ClaimNumber       string   `json:"claimNumber"`
	StatusCode        string   `json:"statusCode"`
	StatusDescription string   `json:"statusDescription,omitempty"`
	ReferenceNumber   string   `json:"referenceNumber,omitempty"`
	PaymentAmount     *float64 `json:"paymentAmount,omitempty"`
	PaymentDate       *Date    `json:"paymentDate,omitempty"`
	CheckNumber       string   `json:"checkNumber,omitempty"`
}

// ResponseResult is the outcome of one 277 entry.
type ResponseResult struct {
	Index        int        `json:"index"`
	ClaimNumber  string     `json:"claimNumber"`
	StatusCode   string     `json:"statusCode"`
	MappedStatus Status     `json:"mappedStatus,omitempty"`
	Success      bool       `json:"success"`
	ClaimID      *uuid.UUID `json:"claimId,omitempty"`
	EntryID      *uuid.UUID `json:"statusEntryId,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// ResponseSummary is returned by Process277Response.
type ResponseSummary struct {
	Total      int              `json:"total"`
	Successful int              `json:"successful"`
	Failed     int              `json:"failed"`
	Results    []ResponseResult `json:"results"`
	Aborted    *BatchAbort      `json:"aborted,omitempty"`
}

// Process277Response applies a payer status response. Every applied entry
// appends a history entry; repeated submissions are not deduplicated.
// Per-entry failures never fail the batch. A storage failure halts the
// remaining entries and is reported in Aborted.
func (s *Service) Process277Response(ctx context.Context, entries []ResponseEntry, actorID string) (*ResponseSummary, error) {
	if len(entries) == 0 || len(entries) > MaxResponseItems {
		return nil, &ValidationError{Field: "responses", Message: fmt.Sprintf("must contain 1 to %d entries", MaxResponseItems)}
	}
	if strings.TrimSpace(actorID) == "" {
		return nil, &ValidationError{Field: "actorId", Message: "is required"}
	}

	results := make([]ResponseResult, len(entries))
	processed, fatal := s.runBatch(ctx, len(entries),
		func(i int) string { return strings.TrimSpace(entries[i].ClaimNumber) },
		func(ctx context.Context, i int) error {
			res, err := s.applyResponseEntry(ctx, entries[i], actorID)
			if err != nil {
				return err
			}
			res.Index = i
			results[i] = res
			return nil
		})

	sum := &ResponseSummary{Total: len(entries), Results: []ResponseResult{}}
	for i := range entries {
		if !processed[i] {
			continue
		}
		sum.Results = append(sum.Results, results[i])
		if results[i].Success {
			sum.Successful++
			s.metrics.observe277("success")
		} else {
			sum.Failed++
			s.metrics.observe277("failure")
		}
	}
	if fatal != nil {
		sum.Aborted = s.abort(fatal, len(entries), processed, func(i int) string { return entries[i].ClaimNumber })
	}

	s.log.Info().
		Int("total", sum.Total).
		Int("successful", sum.Successful).
		Int("failed", sum.Failed).
		Bool("aborted", sum.Aborted != nil).
		Str("actor_id", actorID).
		Msg("processed 277 response")
	return sum, nil
}

// applyResponseEntry returns an error only for failures that must halt the batch.
func (s *Service) applyResponseEntry(ctx context.Context, e ResponseEntry, actorID string) (ResponseResult, error) {
	number := strings.TrimSpace(e.ClaimNumber)
	code := strings.TrimSpace(e.StatusCode)
	res := ResponseResult{ClaimNumber: e.ClaimNumber, StatusCode: e.StatusCode}
	if number == "" {
		res.Error = "claimNumber is required"
		return res, nil
	}
	if code == "" {
		res.Error = "statusCode is required"
		return res, nil
	}

	claim, err := s.store.FindByClaimNumber(ctx, number)
	if errors.Is(err, ErrNotFound) {
		res.Error = ErrNotFound.Error()
		return res, nil
	}
	if err != nil {
		return res, storageErr("find claim by number", err)
	}
	res.ClaimID = &claim.ID

	status, known := MapStatusCode(code)
	res.MappedStatus = status

	reason := e.StatusDescription
	if !known {
		reason = fmt.Sprintf("unmapped 277 status code %s", code)
		if e.StatusDescription != "" {
			reason += ": " + e.StatusDescription
		}
	}
	detail := e.StatusDescription
	if detail == "" {
		detail = fmt.Sprintf("277 status code %s", code)
	}

	payload := StatusPayload{
		Reason:          reason,
		Source:          SourceEDI277,
		StatusCode:      code,
		ReferenceNumber: e.ReferenceNumber,
	}
	switch status {
	case StatusPaid, StatusPartiallyPaid:
		payload.PaymentAmount = e.PaymentAmount
		payload.PaymentDate = e.PaymentDate
		payload.CheckNumber = e.CheckNumber
	case StatusDenied:
		payload.DenialReason = detail
		payload.DenialCode = code
	case StatusPended:
		payload.PendReason = detail
	}

	source, err := checkTransition(status, &payload, actorID)
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	out, err := s.apply(ctx, claim, status, payload, source, actorID)
	if err != nil {
		if errors.Is(err, ErrStorage) {
			return res, err
		}
		res.Error = err.Error()
		return res, nil
	}
	res.Success = true
	res.EntryID = &out.StatusEntry.ID
	return res, nil
}

func (s *Service) abort(fatal error, n int, processed []bool, label func(i int) string) *BatchAbort {
	a := &BatchAbort{Error: fatal.Error(), Unprocessed: []string{}}
	for i := 0; i < n; i++ {
		if !processed[i] {
			a.Unprocessed = append(a.Unprocessed, label(i))
		}
	}
	s.metrics.observeAbort()
	s.log.Error().Err(fatal).Int("unprocessed", len(a.Unprocessed)).Msg("edi batch aborted")
	return a
}
