package claimstatus

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a claim lifecycle state.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusSubmitted          Status = "submitted"
	StatusAcknowledged       Status = "acknowledged"
	StatusPending            Status = "pending"
	StatusUnderReview        Status = "under_review"
	StatusPended             Status = "pended"
	StatusApprovedForPayment Status = "approved_for_payment"
	StatusPaid               Status = "paid"
	StatusPartiallyPaid      Status = "partially_paid"
	StatusDenied             Status = "denied"
	StatusRejected           Status = "rejected"
	StatusAppealed           Status = "appealed"
	StatusResubmitted        Status = "resubmitted"
	StatusCancelled          Status = "cancelled"
	StatusClosed             Status = "closed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusDraft, StatusSubmitted, StatusAcknowledged, StatusPending, StatusUnderReview,
	StatusPended, StatusApprovedForPayment, StatusPaid, StatusPartiallyPaid, StatusDenied,
	StatusRejected, StatusAppealed, StatusResubmitted, StatusCancelled, StatusClosed,
}

var validStatuses = func() map[Status]bool {
	m := make(map[Status]bool, len(AllStatuses))
	for _, s := range AllStatuses {
		m[s] = true
	}
	return m
}()

// TerminalStatuses are the states a claim is not expected to leave without
// an explicit appeal or reopen. Staleness and aging skip them.
var TerminalStatuses = []Status{StatusPaid, StatusDenied, StatusCancelled, StatusClosed}

// ParseStatus validates s against the closed enumeration.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !validStatuses[st] {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Valid() bool { return validStatuses[s] }

func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusDenied, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

func (s Status) isPayment() bool {
	return s == StatusPaid || s == StatusPartiallyPaid
}

// Source identifies where a status change came from.
type Source string

const (
	SourceManual Source = "manual"
	SourceEDI277 Source = "edi_277"
	SourcePortal Source = "portal"
	SourceAPI    Source = "api"
)

func parseSource(s Source) (Source, error) {
	switch s {
	case "":
		return SourceManual, nil
	case SourceManual, SourceEDI277, SourcePortal, SourceAPI:
		return s, nil
	}
	return "", &ValidationError{Field: "source", Message: fmt.Sprintf("unknown source %q", s)}
}

// PaymentInfo is populated while a claim is paid or partially paid.
type PaymentInfo struct {
	Amount       float64   `json:"amount"`
	Date         time.Time `json:"date"`
	CheckNumber  string    `json:"checkNumber,omitempty"`
	ERAReference string    `json:"eraReference,omitempty"`
}

// DenialInfo is populated while a claim is denied.
type DenialInfo struct {
	Reason     string `json:"reason"`
	Code       string `json:"code,omitempty"`
	Appealable bool   `json:"appealable"`
}

// PendInfo is populated while a claim is pended awaiting information.
type PendInfo struct {
	Reason           string     `json:"reason"`
	RequestedInfo    string     `json:"requestedInfo,omitempty"`
	ResponseDeadline *time.Time `json:"responseDeadline,omitempty"`
}

// StatusEntry is one immutable row of a claim's status history.
type StatusEntry struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Status           Status     `db:"status" json:"status"`
	Timestamp        time.Time  `db:"changed_at" json:"timestamp"`
	Reason           string     `db:"reason" json:"reason,omitempty"`
	Notes            string     `db:"notes" json:"notes,omitempty"`
	Source           Source     `db:"source" json:"source"`
	ActorID          string     `db:"actor_id" json:"actorId"`
	ReferenceNumber  string     `db:"reference_number" json:"referenceNumber,omitempty"`
	StatusCode       string     `db:"status_code" json:"statusCode,omitempty"`
	PaymentAmount    *float64   `db:"payment_amount" json:"paymentAmount,omitempty"`
	PaymentDate      *time.Time `db:"payment_date" json:"paymentDate,omitempty"`
	CheckNumber      string     `db:"check_number" json:"checkNumber,omitempty"`
	ERAReference     string     `db:"era_reference" json:"eraReference,omitempty"`
	DenialReason     string     `db:"denial_reason" json:"denialReason,omitempty"`
	DenialCode       string     `db:"denial_code" json:"denialCode,omitempty"`
	Appealable       *bool      `db:"appealable" json:"appealable,omitempty"`
	PendReason       string     `db:"pend_reason" json:"pendReason,omitempty"`
	RequestedInfo    string     `db:"requested_info" json:"requestedInfo,omitempty"`
	ResponseDeadline *time.Time `db:"response_deadline" json:"responseDeadline,omitempty"`
}

// Claim is a billing claim as seen by the status engine. Metadata fields are
// owned by the billing workflow that created the claim.
type Claim struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	ClaimNumber      string        `db:"claim_number" json:"claimNumber"`
	PatientID        *uuid.UUID    `db:"patient_id" json:"patientId,omitempty"`
	PayerID          string        `db:"payer_id" json:"payerId"`
	ProviderID       string        `db:"provider_id" json:"providerId"`
	ServiceDate      time.Time     `db:"service_date" json:"serviceDate"`
	TotalAmount      float64       `db:"total_amount" json:"totalAmount"`
	Status           Status        `db:"status" json:"status"`
	StatusHistory    []StatusEntry `json:"statusHistory"`
	PaymentInfo      *PaymentInfo  `json:"paymentInfo,omitempty"`
	DenialInfo       *DenialInfo   `json:"denialInfo,omitempty"`
	PendInfo         *PendInfo     `json:"pendInfo,omitempty"`
	LastStatusUpdate time.Time     `db:"last_status_update" json:"lastStatusUpdate"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
}

// LastEntry returns the most recent history entry, or nil for an empty history.
func (c *Claim) LastEntry() *StatusEntry {
	if len(c.StatusHistory) == 0 {
		return nil
	}
	return &c.StatusHistory[len(c.StatusHistory)-1]
}

// Date accepts either a calendar date ("2024-01-15") or an RFC 3339 timestamp.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	return Date{t}, nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(time.RFC3339) + `"`), nil
}

func (d *Date) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

// StatusPayload carries the optional fields of a status change. JSON names
// match the existing billing clients.
type StatusPayload struct {
	Reason           string   `json:"reason,omitempty"`
	Notes            string   `json:"notes,omitempty"`
	Source           Source   `json:"source,omitempty"`
	ReferenceNumber  string   `json:"referenceNumber,omitempty"`
	StatusCode       string   `json:"statusCode,omitempty"`
	PaymentAmount    *float64 `json:"paymentAmount,omitempty"`
	PaymentDate      *Date    `json:"paymentDate,omitempty"`
	CheckNumber      string   `json:"checkNumber,omitempty"`
	ERAReference     string   `json:"eraReference,omitempty"`
	DenialReason     string   `json:"denialReason,omitempty"`
	DenialCode       string   `json:"denialCode,omitempty"`
	Appealable       *bool    `json:"appealable,omitempty"`
	PendReason       string   `json:"pendReason,omitempty"`
	RequestedInfo    string   `json:"requestedInfo,omitempty"`
	ResponseDeadline *Date    `json:"responseDeadline,omitempty"`
}

// validateFor enforces the payload requirements of the target status.
func (p *StatusPayload) validateFor(status Status) error {
	switch {
	case status.isPayment():
		if p.PaymentAmount == nil {
			return &ValidationError{Field: "paymentAmount", Message: fmt.Sprintf("required for status %s", status)}
		}
		if *p.PaymentAmount < 0 {
			return &ValidationError{Field: "paymentAmount", Message: "must not be negative"}
		}
		if p.PaymentDate.ptr() == nil {
			return &ValidationError{Field: "paymentDate", Message: fmt.Sprintf("required for status %s", status)}
		}
	case status == StatusDenied:
		if strings.TrimSpace(p.DenialReason) == "" {
			return &ValidationError{Field: "denialReason", Message: "required for status denied"}
		}
	case status == StatusPended:
		if strings.TrimSpace(p.PendReason) == "" {
			return &ValidationError{Field: "pendReason", Message: "required for status pended"}
		}
	}
	return nil
}

// ClaimPatch is the single atomic store write for a transition: the entry
// is appended and the claim fields are set together.
type ClaimPatch struct {
	Entry            StatusEntry
	Status           Status
	LastStatusUpdate time.Time
	PaymentInfo      *PaymentInfo
	DenialInfo       *DenialInfo
	PendInfo         *PendInfo
}

// DateField selects which claim date a range filter applies to.
type DateField string

const (
	DateFieldLastStatusUpdate DateField = "last_status_update"
	DateFieldServiceDate      DateField = "service_date"
)

// ClaimFilter narrows a store query. Zero values mean "no constraint";
// Limit <= 0 means unbounded.
type ClaimFilter struct {
	Statuses        []Status
	ExcludeStatuses []Status
	PayerID         string
	ProviderID      string
	DateField       DateField
	DateFrom        *time.Time
	DateTo          *time.Time
	UpdatedBefore   *time.Time
	UpdatedFrom     *time.Time
	Limit           int
}
