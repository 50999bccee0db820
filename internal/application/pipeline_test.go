package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaypoint/notification-gateway/internal/application"
	"github.com/relaypoint/notification-gateway/internal/domain"
)

// recorder collects the pipeline's calls in order, shared by all fakes.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) note(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

type fakeLimiter struct {
	rec *recorder
	err error
}

func (f *fakeLimiter) Check(context.Context, string, string, int, time.Duration) error {
	f.rec.note("check")
	return f.err
}

// fakeIdem is a mutex-guarded in-memory reserve/finalize store.
type fakeIdem struct {
	rec        *recorder
	mu         sync.Mutex
	values     map[string]string
	reserveErr error
}

func (f *fakeIdem) Reserve(_ context.Context, requestID string, _ time.Duration) (string, bool, error) {
	f.rec.note("reserve")
	if f.reserveErr != nil {
		return "", false, f.reserveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.values[requestID]; ok {
		return prior, true, nil
	}
	f.values[requestID] = domain.ReservationSentinel
	return "", false, nil
}

func (f *fakeIdem) Finalize(_ context.Context, requestID, notificationID string, _ time.Duration) error {
	f.rec.note("finalize")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[requestID] = notificationID
	return nil
}

type fakePublisher struct {
	rec       *recorder
	mu        sync.Mutex
	published []domain.Envelope
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, env domain.Envelope) error {
	f.rec.note("publish")
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

type fakeTracker struct {
	rec      *recorder
	mu       sync.Mutex
	statuses map[string]domain.Status
}

func (f *fakeTracker) SetStatus(_ context.Context, id string, status domain.Status, _ string) error {
	f.rec.note("status")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakeTracker) Get(context.Context, string) (*domain.StatusRecord, error) {
	return nil, domain.ErrStatusNotFound
}

type fixture struct {
	rec       *recorder
	limiter   *fakeLimiter
	idem      *fakeIdem
	publisher *fakePublisher
	tracker   *fakeTracker
	pipeline  *application.Pipeline
}

func newFixture() *fixture {
	rec := &recorder{}
	f := &fixture{
		rec:       rec,
		limiter:   &fakeLimiter{rec: rec},
		idem:      &fakeIdem{rec: rec, values: map[string]string{}},
		publisher: &fakePublisher{rec: rec},
		tracker:   &fakeTracker{rec: rec, statuses: map[string]domain.Status{}},
	}
	f.pipeline = application.NewPipeline(f.limiter, f.idem, f.publisher, f.tracker, application.Limits{
		RequestsPerWindow: 60,
		Window:            time.Minute,
		IdempotencyTTL:    24 * time.Hour,
	})
	return f
}

func emailRequest(requestID string) application.IngestRequest {
	return application.IngestRequest{
		NotificationType: domain.TypeEmail,
		UserID:           "user-1",
		TemplateCode:     "welcome",
		Variables:        domain.Variables{Name: "Sam", Link: "https://example.com/verify"},
		Priority:         1,
		RequestID:        requestID,
	}
}

func TestIngest_RunsStepsInFixedOrder(t *testing.T) {
	f := newFixture()

	id, duplicate, err := f.pipeline.Ingest(context.Background(), "10.0.0.1", emailRequest("req-1"))
	if err != nil {
		t.Fatal(err)
	}
	if duplicate {
		t.Fatal("fresh request reported as duplicate")
	}
	if id == "" {
		t.Fatal("no notification id returned")
	}

	want := []string{"check", "reserve", "publish", "finalize", "status"}
	if len(f.rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", f.rec.calls, want)
	}
	for i := range want {
		if f.rec.calls[i] != want[i] {
			t.Fatalf("step %d = %q, want %q", i, f.rec.calls[i], want[i])
		}
	}

	if f.tracker.statuses[id] != domain.StatusPending {
		t.Fatalf("initial status = %q, want pending", f.tracker.statuses[id])
	}
	if got := f.idem.values["req-1"]; got != id {
		t.Fatalf("idempotency key finalized to %q, want %q", got, id)
	}
}

func TestIngest_EnvelopeCarriesRequestFields(t *testing.T) {
	f := newFixture()

	id, _, err := f.pipeline.Ingest(context.Background(), "10.0.0.1", emailRequest("req-env"))
	if err != nil {
		t.Fatal(err)
	}

	env := f.publisher.published[0]
	if env.NotificationID != id {
		t.Fatalf("envelope id %q != returned id %q", env.NotificationID, id)
	}
	if env.NotificationType != domain.TypeEmail || env.RequestID != "req-env" {
		t.Fatalf("envelope fields wrong: %+v", env)
	}
	if env.EnqueuedAt.IsZero() {
		t.Fatal("enqueued_at not set")
	}
}

func TestIngest_ResubmissionReturnsSameIDWithoutSecondPublish(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := emailRequest("req-dup")

	first, _, err := f.pipeline.Ingest(ctx, "10.0.0.1", req)
	if err != nil {
		t.Fatal(err)
	}

	second, duplicate, err := f.pipeline.Ingest(ctx, "10.0.0.1", req)
	if err != nil {
		t.Fatal(err)
	}
	if !duplicate {
		t.Fatal("resubmission not reported as duplicate")
	}
	if second != first {
		t.Fatalf("resubmission returned %q, want %q", second, first)
	}
	if len(f.publisher.published) != 1 {
		t.Fatalf("expected exactly one publish across both calls, got %d", len(f.publisher.published))
	}
}

func TestIngest_InFlightDuplicateRejected(t *testing.T) {
	f := newFixture()
	// Simulate a request that reserved but has not finalized.
	f.idem.values["req-stuck"] = domain.ReservationSentinel

	_, _, err := f.pipeline.Ingest(context.Background(), "10.0.0.1", emailRequest("req-stuck"))
	if !errors.Is(err, domain.ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
	if len(f.publisher.published) != 0 {
		t.Fatal("in-flight duplicate must not publish")
	}
}

func TestIngest_RateLimitedStopsBeforeReserve(t *testing.T) {
	f := newFixture()
	f.limiter.err = domain.ErrRateLimited

	_, _, err := f.pipeline.Ingest(context.Background(), "10.0.0.1", emailRequest("req-rl"))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(f.rec.calls) != 1 || f.rec.calls[0] != "check" {
		t.Fatalf("rejected request must stop at the rate check, calls = %v", f.rec.calls)
	}
}

func TestIngest_PublishFailureLeavesReservationPinned(t *testing.T) {
	f := newFixture()
	f.publisher.err = domain.ErrBrokerUnavailable

	_, _, err := f.pipeline.Ingest(context.Background(), "10.0.0.1", emailRequest("req-pf"))
	if !errors.Is(err, domain.ErrBrokerUnavailable) {
		t.Fatalf("expected ErrBrokerUnavailable, got %v", err)
	}

	// The key stays at the sentinel until TTL; neither finalize nor status ran.
	if got := f.idem.values["req-pf"]; got != domain.ReservationSentinel {
		t.Fatalf("reservation = %q, want sentinel", got)
	}
	for _, call := range f.rec.calls {
		if call == "finalize" || call == "status" {
			t.Fatalf("step %q must not run after a failed publish", call)
		}
	}

	// The request_id is now unusable: a retry sees the sentinel and is rejected.
	_, _, err = f.pipeline.Ingest(context.Background(), "10.0.0.1", emailRequest("req-pf"))
	if !errors.Is(err, domain.ErrInFlight) {
		t.Fatalf("retry inside the TTL window should see ErrInFlight, got %v", err)
	}
}

func TestIngest_ConcurrentDuplicatesPublishOnce(t *testing.T) {
	f := newFixture()
	req := emailRequest("req-conc")

	const n = 16
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := f.pipeline.Ingest(context.Background(), "10.0.0.1", req)
			if err == nil {
				ids <- id
			} else if !errors.Is(err, domain.ErrInFlight) {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	close(ids)

	if len(f.publisher.published) != 1 {
		t.Fatalf("expected exactly one publish, got %d", len(f.publisher.published))
	}
	for id := range ids {
		if id != f.publisher.published[0].NotificationID {
			t.Fatalf("successful callers must agree on the id, got %q", id)
		}
	}
}
