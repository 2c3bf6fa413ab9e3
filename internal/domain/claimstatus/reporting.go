package claimstatus

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// AgingBucket counts outstanding claims by days since their last update.
type AgingBucket struct {
	Label       string  `json:"label"`
	MinDays     int     `json:"minDays"`
	MaxDays     *int    `json:"maxDays,omitempty"`
	Count       int     `json:"count"`
	TotalAmount float64 `json:"totalAmount"`
}

type bucketBound struct {
	label    string
	min, max int // max < 0 means open-ended
}

var agingBounds = []bucketBound{
	{"0-30", 0, 30},
	{"31-60", 31, 60},
	{"61-90", 61, 90},
	{"91+", 91, -1},
}

func newBuckets() []AgingBucket {
	out := make([]AgingBucket, len(agingBounds))
	for i, b := range agingBounds {
		out[i] = AgingBucket{Label: b.label, MinDays: b.min}
		if b.max >= 0 {
			hi := b.max
			out[i].MaxDays = &hi
		}
	}
	return out
}

// bucketIndex returns the aging bucket for a whole number of elapsed days.
func bucketIndex(days int) int {
	for i, b := range agingBounds {
		if b.max < 0 || days <= b.max {
			return i
		}
	}
	return len(agingBounds) - 1
}

// PayerAging is the aging breakdown of one payer.
type PayerAging struct {
	PayerID string        `json:"payerId"`
	Buckets []AgingBucket `json:"buckets"`
}

// StatusAging is the aging breakdown of one status.
type StatusAging struct {
	Status  Status        `json:"status"`
	Buckets []AgingBucket `json:"buckets"`
}

// AgingReport is the result of GetAgingReport.
type AgingReport struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	TotalCount  int           `json:"totalCount"`
	TotalAmount float64       `json:"totalAmount"`
	Buckets     []AgingBucket `json:"buckets"`
	ByPayer     []PayerAging  `json:"byPayer"`
	ByStatus    []StatusAging `json:"byStatus"`
}

// agingExcluded are never aged. Denied claims are queried and kept only when
// appealable.
var agingExcluded = []Status{StatusPaid, StatusCancelled, StatusClosed}

func includeInAging(c *Claim) bool {
	if c.Status == StatusDenied {
		return c.DenialInfo != nil && c.DenialInfo.Appealable
	}
	return !c.Status.IsTerminal()
}

func elapsedDays(now, since time.Time) int {
	d := now.Sub(since)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// GetAgingReport buckets outstanding claims by time since last status update.
func (s *Service) GetAgingReport(ctx context.Context) (*AgingReport, error) {
	claims, err := s.store.Query(ctx, ClaimFilter{ExcludeStatuses: agingExcluded})
	if err != nil {
		return nil, storageErr("query claims", err)
	}

	now := s.now().UTC()
	rep := &AgingReport{GeneratedAt: now, Buckets: newBuckets()}
	byPayer := make(map[string][]AgingBucket)
	byStatus := make(map[Status][]AgingBucket)

	for _, c := range claims {
		if !includeInAging(c) {
			continue
		}
		i := bucketIndex(elapsedDays(now, c.LastStatusUpdate))

		rep.TotalCount++
		rep.TotalAmount += c.TotalAmount
		rep.Buckets[i].Count++
		rep.Buckets[i].TotalAmount += c.TotalAmount

		pb, ok := byPayer[c.PayerID]
		if !ok {
			pb = newBuckets()
			byPayer[c.PayerID] = pb
		}
		pb[i].Count++
		pb[i].TotalAmount += c.TotalAmount

		sb, ok := byStatus[c.Status]
		if !ok {
			sb = newBuckets()
			byStatus[c.Status] = sb
		}
		sb[i].Count++
		sb[i].TotalAmount += c.TotalAmount
	}

	rep.ByPayer = make([]PayerAging, 0, len(byPayer))
	for payer, b := range byPayer {
		rep.ByPayer = append(rep.ByPayer, PayerAging{PayerID: payer, Buckets: b})
	}
	sort.Slice(rep.ByPayer, func(i, j int) bool { return rep.ByPayer[i].PayerID < rep.ByPayer[j].PayerID })

	rep.ByStatus = make([]StatusAging, 0, len(byStatus))
	for _, st := range AllStatuses {
		if b, ok := byStatus[st]; ok {
			rep.ByStatus = append(rep.ByStatus, StatusAging{Status: st, Buckets: b})
		}
	}
	return rep, nil
}

// StaleClaim is a claim needing follow-up.
type StaleClaim struct {
	*Claim
	DaysSinceUpdate int `json:"daysSinceUpdate"`
}

// StaleReport is the result of CheckStaleClaims.
type StaleReport struct {
	DaysThreshold int          `json:"daysThreshold"`
	Cutoff        time.Time    `json:"cutoff"`
	Count         int          `json:"count"`
	Claims        []StaleClaim `json:"claims"`
}

// DefaultStaleDays returns the configured default threshold.
func (s *Service) DefaultStaleDays() int { return s.staleDays }

// CheckStaleClaims lists non-terminal claims whose last update is older than
// daysThreshold days, oldest first. A threshold of 0 uses the configured
// default. Claims are not modified.
func (s *Service) CheckStaleClaims(ctx context.Context, daysThreshold int) (*StaleReport, error) {
	if daysThreshold == 0 {
		daysThreshold = s.staleDays
	}
	if daysThreshold < MinStaleDays || daysThreshold > MaxStaleDays {
		return nil, &ValidationError{Field: "days", Message: fmt.Sprintf("must be between %d and %d", MinStaleDays, MaxStaleDays)}
	}

	now := s.now().UTC()
	cutoff := now.Add(-time.Duration(daysThreshold) * 24 * time.Hour)
	claims, err := s.store.Query(ctx, ClaimFilter{
		ExcludeStatuses: TerminalStatuses,
		UpdatedBefore:   &cutoff,
	})
	if err != nil {
		return nil, storageErr("query claims", err)
	}

	rep := &StaleReport{DaysThreshold: daysThreshold, Cutoff: cutoff, Claims: []StaleClaim{}}
	for _, c := range claims {
		if c.Status.IsTerminal() || !c.LastStatusUpdate.Before(cutoff) {
			continue
		}
		rep.Claims = append(rep.Claims, StaleClaim{Claim: c, DaysSinceUpdate: elapsedDays(now, c.LastStatusUpdate)})
	}
	sort.SliceStable(rep.Claims, func(i, j int) bool {
		return rep.Claims[i].LastStatusUpdate.Before(rep.Claims[j].LastStatusUpdate)
	})
	rep.Count = len(rep.Claims)
	return rep, nil
}

// StatusStatistics is the result of GetStatusStatistics.
type StatusStatistics struct {
	StartDate        time.Time      `json:"startDate"`
	EndDate          time.Time      `json:"endDate"`
	ClaimsConsidered int            `json:"claimsConsidered"`
	CountsByStatus   map[Status]int `json:"countsByStatus"`
	PaidClaims       int            `json:"paidClaims"`
	AvgDaysToPayment *float64       `json:"avgDaysToPayment,omitempty"`
	TerminalCount    int            `json:"terminalCount"`
	DeniedCount      int            `json:"deniedCount"`
	DenialRate       float64        `json:"denialRate"`
}

// GetStatusStatistics aggregates status entries whose timestamps fall in
// [startDate, endDate]. Time to payment runs from a claim's first submitted
// entry to its first paid entry in range. Denial rate is denied entries over
// entries in a terminal status.
func (s *Service) GetStatusStatistics(ctx context.Context, startDate, endDate time.Time) (*StatusStatistics, error) {
	if startDate.IsZero() || endDate.IsZero() {
		return nil, &ValidationError{Field: "startDate", Message: "startDate and endDate are required"}
	}
	if startDate.After(endDate) {
		return nil, &ValidationError{Field: "startDate", Message: "must not be after endDate"}
	}

	// lastStatusUpdate never decreases, so any claim with an entry in range
	// was last updated at or after startDate.
	claims, err := s.store.Query(ctx, ClaimFilter{UpdatedFrom: &startDate})
	if err != nil {
		return nil, storageErr("query claims", err)
	}

	st := &StatusStatistics{
		StartDate:      startDate,
		EndDate:        endDate,
		CountsByStatus: make(map[Status]int),
	}
	var payDays float64
	for _, c := range claims {
		inRange := false
		var submittedAt *time.Time
		paidCounted := false
		for i := range c.StatusHistory {
			e := &c.StatusHistory[i]
			if e.Status == StatusSubmitted && submittedAt == nil {
				submittedAt = &e.Timestamp
			}
			if e.Timestamp.Before(startDate) || e.Timestamp.After(endDate) {
				continue
			}
			inRange = true
			st.CountsByStatus[e.Status]++
			if e.Status.IsTerminal() {
				st.TerminalCount++
			}
			if e.Status == StatusDenied {
				st.DeniedCount++
			}
			if e.Status == StatusPaid && !paidCounted && submittedAt != nil {
				paidCounted = true
				st.PaidClaims++
				payDays += e.Timestamp.Sub(*submittedAt).Hours() / 24
			}
		}
		if inRange {
			st.ClaimsConsidered++
		}
	}
	if st.PaidClaims > 0 {
		avg := math.Round(payDays/float64(st.PaidClaims)*100) / 100
		st.AvgDaysToPayment = &avg
	}
	if st.TerminalCount > 0 {
		st.DenialRate = math.Round(float64(st.DeniedCount)/float64(st.TerminalCount)*10000) / 10000
	}
	return st, nil
}
