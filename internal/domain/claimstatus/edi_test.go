package claimstatus

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestService_Process277Response_MixedBatch(t *testing.T) {
	svc, store, clock := newTestService()
	claim := seedClaim(store, "A", StatusSubmitted, clock.Now())

	sum, err := svc.Process277Response(context.Background(), []ResponseEntry{
		{ClaimNumber: "A", StatusCode: "20"},
		{ClaimNumber: "missing", StatusCode: "20"},
	}, "edi-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Total != 2 || sum.Successful != 1 || sum.Failed != 1 {
		t.Fatalf("expected total=2 successful=1 failed=1, got %d/%d/%d", sum.Total, sum.Successful, sum.Failed)
	}
	if sum.Aborted != nil {
		t.Fatalf("unexpected abort: %+v", sum.Aborted)
	}
	failed := sum.Results[1]
	if failed.Success || failed.ClaimNumber != "missing" || failed.Error == "" {
		t.Errorf("expected failed result naming claim 'missing', got %+v", failed)
	}

	got := store.get(claim.ID)
	if got.Status != StatusPending {
		t.Errorf("expected code 20 to map to pending, got %s", got.Status)
	}
	e := got.LastEntry()
	if e.Source != SourceEDI277 || e.StatusCode != "20" || e.ActorID != "edi-user" {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestService_Process277Response_Mappings(t *testing.T) {
	svc, store, clock := newTestService()
	now := clock.Now()
	paid := seedClaim(store, "PAID", StatusUnderReview, now)
	denied := seedClaim(store, "DENIED", StatusUnderReview, now)
	pended := seedClaim(store, "PENDED", StatusUnderReview, now)
	unknown := seedClaim(store, "UNKNOWN", StatusPending, now)

	sum, err := svc.Process277Response(context.Background(), []ResponseEntry{
		{ClaimNumber: "PAID", StatusCode: "F1", PaymentAmount: ptrFloat(99.5), PaymentDate: mustDate(t, "2024-05-30"), CheckNumber: "CHK-1"},
		{ClaimNumber: "DENIED", StatusCode: "f2", StatusDescription: "not medically necessary"},
		{ClaimNumber: "PENDED", StatusCode: "R1"},
		{ClaimNumber: "UNKNOWN", StatusCode: "ZZ", StatusDescription: "odd"},
	}, "edi-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Successful != 4 {
		t.Fatalf("expected 4 successes, got %+v", sum.Results)
	}

	if c := store.get(paid.ID); c.Status != StatusPaid || c.PaymentInfo == nil || c.PaymentInfo.Amount != 99.5 || c.PaymentInfo.CheckNumber != "CHK-1" {
		t.Errorf("unexpected paid claim: status=%s info=%+v", c.Status, c.PaymentInfo)
	}
	if c := store.get(denied.ID); c.Status != StatusDenied || c.DenialInfo == nil || c.DenialInfo.Reason != "not medically necessary" || c.DenialInfo.Code != "f2" {
		t.Errorf("unexpected denied claim: status=%s info=%+v", c.Status, c.DenialInfo)
	}
	if c := store.get(pended.ID); c.Status != StatusPended || c.PendInfo == nil || c.PendInfo.Reason != "277 status code R1" {
		t.Errorf("unexpected pended claim: status=%s info=%+v", c.Status, c.PendInfo)
	}
	c := store.get(unknown.ID)
	if c.Status != StatusUnderReview {
		t.Errorf("expected unmapped code to fall back to under_review, got %s", c.Status)
	}
	if !strings.Contains(c.LastEntry().Reason, "unmapped 277 status code ZZ") {
		t.Errorf("expected unmapped reason, got %q", c.LastEntry().Reason)
	}
}

func TestService_Process277Response_PaidWithoutPayment(t *testing.T) {
	svc, store, clock := newTestService()
	claim := seedClaim(store, "A", StatusUnderReview, clock.Now())

	sum, err := svc.Process277Response(context.Background(), []ResponseEntry{{ClaimNumber: "A", StatusCode: "F1"}}, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Failed != 1 || !strings.Contains(sum.Results[0].Error, "paymentAmount") {
		t.Errorf("expected paymentAmount failure, got %+v", sum.Results)
	}
	if c := store.get(claim.ID); len(c.StatusHistory) != 0 {
		t.Error("expected claim untouched")
	}
}

func TestService_Process277Response_MissingFields(t *testing.T) {
	svc, _, _ := newTestService()
	sum, err := svc.Process277Response(context.Background(), []ResponseEntry{
		{StatusCode: "20"},
		{ClaimNumber: "A"},
	}, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Failed != 2 {
		t.Fatalf("expected 2 failures, got %d", sum.Failed)
	}
	if sum.Results[0].Error != "claimNumber is required" || sum.Results[1].Error != "statusCode is required" {
		t.Errorf("unexpected errors: %q, %q", sum.Results[0].Error, sum.Results[1].Error)
	}
}

func TestService_Process277Response_SameClaimInOrder(t *testing.T) {
	store := newMockClaimStore()
	clock := newTestClock()
	svc := NewService(store, Options{Now: clock.Now, BatchWorkers: 4})
	a := seedClaim(store, "A", StatusSubmitted, clock.Now())
	seedClaim(store, "B", StatusSubmitted, clock.Now())

	entries := []ResponseEntry{
		{ClaimNumber: "A", StatusCode: "A1"},
		{ClaimNumber: "B", StatusCode: "A1"},
		{ClaimNumber: "A", StatusCode: "P1"},
		{ClaimNumber: "B", StatusCode: "P1"},
		{ClaimNumber: "A", StatusCode: "F0"},
	}
	sum, err := svc.Process277Response(context.Background(), entries, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Successful != 5 {
		t.Fatalf("expected 5 successes, got %d", sum.Successful)
	}
	for i, r := range sum.Results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
	}

	got := store.get(a.ID)
	want := []Status{StatusAcknowledged, StatusPending, StatusClosed}
	if len(got.StatusHistory) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got.StatusHistory))
	}
	for i, st := range want {
		if got.StatusHistory[i].Status != st {
			t.Errorf("entry %d: expected %s, got %s", i, st, got.StatusHistory[i].Status)
		}
	}
	if got.Status != StatusClosed {
		t.Errorf("expected final status closed, got %s", got.Status)
	}
}

func TestService_Process277Response_RepeatedEntriesAppend(t *testing.T) {
	svc, store, clock := newTestService()
	claim := seedClaim(store, "A", StatusSubmitted, clock.Now())

	entries := []ResponseEntry{{ClaimNumber: "A", StatusCode: "A1"}}
	for i := 0; i < 2; i++ {
		if _, err := svc.Process277Response(context.Background(), entries, "u"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := store.get(claim.ID); len(got.StatusHistory) != 2 {
		t.Errorf("expected duplicate submissions to append, got %d entries", len(got.StatusHistory))
	}
}

func TestService_Process277Response_StorageAbort(t *testing.T) {
	store := newMockClaimStore()
	clock := newTestClock()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := NewService(store, Options{Now: clock.Now, Metrics: metrics})
	seedClaim(store, "A", StatusSubmitted, clock.Now())
	seedClaim(store, "B", StatusSubmitted, clock.Now())
	seedClaim(store, "C", StatusSubmitted, clock.Now())
	store.updateErr["B"] = fmt.Errorf("connection refused")

	sum, err := svc.Process277Response(context.Background(), []ResponseEntry{
		{ClaimNumber: "A", StatusCode: "A1"},
		{ClaimNumber: "B", StatusCode: "A1"},
		{ClaimNumber: "C", StatusCode: "A1"},
	}, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Aborted == nil {
		t.Fatal("expected batch abort")
	}
	if sum.Successful != 1 || len(sum.Results) != 1 || sum.Results[0].ClaimNumber != "A" {
		t.Errorf("expected only A processed, got %+v", sum.Results)
	}
	if got := strings.Join(sum.Aborted.Unprocessed, ","); got != "B,C" {
		t.Errorf("expected unprocessed B,C, got %s", got)
	}
	if v := testutil.ToFloat64(metrics.BatchAborted); v != 1 {
		t.Errorf("expected abort counter 1, got %v", v)
	}
	if v := testutil.ToFloat64(metrics.EDI277.WithLabelValues("success")); v != 1 {
		t.Errorf("expected success counter 1, got %v", v)
	}
	if v := testutil.ToFloat64(metrics.Transitions.WithLabelValues(string(StatusAcknowledged), string(SourceEDI277))); v != 1 {
		t.Errorf("expected transition counter 1, got %v", v)
	}
}

func TestService_Process277Response_CancelledContext(t *testing.T) {
	svc, store, clock := newTestService()
	claim := seedClaim(store, "A", StatusSubmitted, clock.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := svc.Process277Response(ctx, []ResponseEntry{{ClaimNumber: "A", StatusCode: "A1"}}, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Aborted == nil || len(sum.Aborted.Unprocessed) != 1 {
		t.Fatalf("expected aborted batch, got %+v", sum.Aborted)
	}
	if got := store.get(claim.ID); len(got.StatusHistory) != 0 {
		t.Error("expected no entries after cancellation")
	}
}

func TestService_Process277Response_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Process277Response(ctx, nil, "u"); err == nil {
		t.Error("expected error for empty batch")
	}
	if _, err := svc.Process277Response(ctx, make([]ResponseEntry, MaxResponseItems+1), "u"); err == nil {
		t.Error("expected error for oversized batch")
	}
	if _, err := svc.Process277Response(ctx, []ResponseEntry{{ClaimNumber: "A", StatusCode: "20"}}, ""); err == nil {
		t.Error("expected error for missing actor")
	}
}

func TestService_Generate276Inquiry(t *testing.T) {
	svc, store, clock := newTestService()
	a := seedClaim(store, "CLM-1", StatusSubmitted, clock.Now())
	b := seedClaim(store, "CLM-2", StatusPending, clock.Now())
	missing := uuid.New()

	inq, err := svc.Generate276Inquiry(context.Background(), []string{a.ID.String(), "not-a-uuid", missing.String(), b.ID.String()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inq.Claims) != 2 || len(inq.Errors) != 2 {
		t.Fatalf("expected 2 claims and 2 errors, got %d/%d", len(inq.Claims), len(inq.Errors))
	}
	if inq.Claims[0].ClaimNumber != "CLM-1" || inq.Claims[1].CurrentStatus != StatusPending {
		t.Errorf("unexpected items: %+v", inq.Claims)
	}
	prefix := strings.ToUpper(inq.BatchID.String()[:8])
	if inq.Claims[0].TraceNumber != prefix+"-001" || inq.Claims[1].TraceNumber != prefix+"-004" {
		t.Errorf("unexpected trace numbers: %s, %s", inq.Claims[0].TraceNumber, inq.Claims[1].TraceNumber)
	}
	if inq.Errors[0].Error != "invalid claim id" || inq.Errors[1].Error != ErrNotFound.Error() {
		t.Errorf("unexpected errors: %+v", inq.Errors)
	}
	if store.updates != 0 {
		t.Error("inquiry must not modify claims")
	}
}

func TestService_Generate276Inquiry_Bounds(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Generate276Inquiry(context.Background(), nil); err == nil {
		t.Error("expected error for empty inquiry")
	}
	ids := make([]string, MaxInquiryClaims+1)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	if _, err := svc.Generate276Inquiry(context.Background(), ids); err == nil {
		t.Error("expected error for oversized inquiry")
	}
}

func TestService_Generate276Inquiry_StorageAbort(t *testing.T) {
	svc, store, clock := newTestService()
	a := seedClaim(store, "CLM-1", StatusSubmitted, clock.Now())
	store.findErr = fmt.Errorf("pool closed")

	inq, err := svc.Generate276Inquiry(context.Background(), []string{a.ID.String(), uuid.NewString()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inq.Aborted == nil || len(inq.Aborted.Unprocessed) != 2 {
		t.Fatalf("expected both ids unprocessed, got %+v", inq.Aborted)
	}
	if len(inq.Claims) != 0 {
		t.Errorf("expected no claims, got %d", len(inq.Claims))
	}
}
