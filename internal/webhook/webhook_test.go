package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"experimentservice/internal/audit"
	"experimentservice/internal/config"
	"experimentservice/internal/models"
	"experimentservice/internal/repository"
)

type stubWebhookRepo struct {
	mu        sync.Mutex
	subs      []models.WebhookSubscription
	lookups   int
	inserted  []models.WebhookDelivery
	due       []models.WebhookDelivery
	outcomes  map[string]repository.DeliveryOutcome
	reclaimed int64
	reclaimAt int
	purgedAt  time.Time
}

func (s *stubWebhookRepo) CreateWebhookSubscription(ctx context.Context, item *models.WebhookSubscription) error {
	s.subs = append(s.subs, *item)
	return nil
}

func (s *stubWebhookRepo) GetWebhookSubscription(ctx context.Context, projectID, id string) (*models.WebhookSubscription, error) {
	return nil, nil
}

func (s *stubWebhookRepo) ListWebhookSubscriptions(ctx context.Context, params repository.ListWebhookSubscriptionsParams) ([]models.WebhookSubscription, error) {
	return s.subs, nil
}

func (s *stubWebhookRepo) CountWebhookSubscriptions(ctx context.Context, params repository.ListWebhookSubscriptionsParams) (int64, error) {
	return int64(len(s.subs)), nil
}

func (s *stubWebhookRepo) DeleteWebhookSubscription(ctx context.Context, projectID, id string) (bool, error) {
	return false, nil
}

func (s *stubWebhookRepo) ListMatchingSubscriptionsTx(ctx context.Context, tx *gorm.DB, projectID, eventType string) ([]models.WebhookSubscription, error) {
	s.lookups++
	var out []models.WebhookSubscription
	for _, sub := range s.subs {
		if sub.ProjectID != projectID || !sub.IsActive {
			continue
		}
		var types []string
		_ = json.Unmarshal(sub.EventTypes, &types)
		for _, t := range types {
			if t == eventType {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

func (s *stubWebhookRepo) InsertWebhookDeliveriesTx(ctx context.Context, tx *gorm.DB, items []models.WebhookDelivery) error {
	s.inserted = append(s.inserted, items...)
	return nil
}

func (s *stubWebhookRepo) ClaimDueDeliveries(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.due) {
		limit = len(s.due)
	}
	out := s.due[:limit]
	s.due = s.due[limit:]
	return out, nil
}

func (s *stubWebhookRepo) CompleteDeliveryAttempt(ctx context.Context, id string, outcome repository.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		s.outcomes = map[string]repository.DeliveryOutcome{}
	}
	s.outcomes[id] = outcome
	return nil
}

func (s *stubWebhookRepo) ReclaimExpiredDeliveries(ctx context.Context, now time.Time, maxAttempts int) (int64, error) {
	s.reclaimAt = maxAttempts
	return s.reclaimed, nil
}

func (s *stubWebhookRepo) PurgeSucceededDeliveries(ctx context.Context, before time.Time) (int64, error) {
	s.purgedAt = before
	return 0, nil
}

func (s *stubWebhookRepo) GetWebhookDelivery(ctx context.Context, projectID, id string) (*models.WebhookDelivery, error) {
	return nil, nil
}

func (s *stubWebhookRepo) ListWebhookDeliveries(ctx context.Context, params repository.ListWebhookDeliveriesParams) ([]models.WebhookDelivery, error) {
	return nil, nil
}

func (s *stubWebhookRepo) CountWebhookDeliveries(ctx context.Context, params repository.ListWebhookDeliveriesParams) (int64, error) {
	return 0, nil
}

func (s *stubWebhookRepo) RequeueFailedDelivery(ctx context.Context, projectID, id string, now time.Time) (bool, error) {
	return false, nil
}

func sub(id, project string, secret *string, active bool, types ...string) models.WebhookSubscription {
	raw, _ := json.Marshal(types)
	return models.WebhookSubscription{ID: id, ProjectID: project, TargetURL: "http://hook/" + id, EventTypes: raw, Secret: secret, IsActive: active}
}

func strPtr(v string) *string { return &v }

func TestProducerFansOutToMatchingSubscriptions(t *testing.T) {
	repo := &stubWebhookRepo{subs: []models.WebhookSubscription{
		sub("s1", "p1", strPtr("k"), true, audit.RunStatusChanged, audit.RunCreated),
		sub("s2", "p1", nil, true, audit.RunStatusChanged),
		sub("s3", "p1", nil, false, audit.RunStatusChanged),
		sub("s4", "p2", nil, true, audit.RunStatusChanged),
	}}
	p := &Producer{Repo: repo}
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{ID: "e1", ProjectID: "p1", EntityKind: "run", EntityID: "r1", Type: audit.RunStatusChanged, OccurredAt: at, Payload: map[string]any{"to": "succeeded"}},
		{ID: "e2", ProjectID: "p1", EntityKind: "run", EntityID: "r2", Type: audit.RunStatusChanged, OccurredAt: at},
		{ID: "e3", ProjectID: "p1", EntityKind: "experiment", EntityID: "x1", Type: audit.ExperimentCreated, OccurredAt: at},
	}
	if err := p.EmitTx(context.Background(), nil, events); err != nil {
		t.Fatalf("emit err=%v", err)
	}
	if len(repo.inserted) != 4 {
		t.Fatalf("deliveries=%d want=4", len(repo.inserted))
	}
	if repo.lookups != 2 {
		t.Fatalf("lookups=%d want=2", repo.lookups)
	}
	first := repo.inserted[0]
	if first.Status != models.DeliveryPending || first.AttemptCount != 0 || !first.NextAttemptAt.Equal(at) {
		t.Fatalf("delivery=%+v", first)
	}
	if first.Secret == nil || *first.Secret != "k" || first.TargetURL != "http://hook/s1" {
		t.Fatalf("subscription fields not copied: %+v", first)
	}
	var body Payload
	if err := json.Unmarshal(first.Payload, &body); err != nil {
		t.Fatalf("payload err=%v", err)
	}
	if body.EventID != "e1" || body.Entity.Kind != "run" || body.Entity.ID != "r1" || body.Payload["to"] != "succeeded" {
		t.Fatalf("payload=%+v", body)
	}
	if repo.inserted[0].EventID != repo.inserted[1].EventID {
		t.Fatalf("one event must share its id across subscriptions")
	}
}

func TestDispatcherSuccessSignsRequest(t *testing.T) {
	payload := []byte(`{"event_id":"e1"}`)
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubWebhookRepo{due: []models.WebhookDelivery{{
		ID: "d1", EventID: "e1", EventType: audit.RunCreated, TargetURL: srv.URL,
		Secret: strPtr("topsecret"), Payload: payload, Status: models.DeliveryInProgress,
	}}}
	d := &Dispatcher{Repo: repo, Client: srv.Client(), Now: func() time.Time { return now }}

	n, err := d.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	out := repo.outcomes["d1"]
	if out.Status != models.DeliverySucceeded || out.AttemptCount != 1 || out.DeliveredAt == nil {
		t.Fatalf("outcome=%+v", out)
	}
	if out.LastStatusCode == nil || *out.LastStatusCode != http.StatusNoContent {
		t.Fatalf("status code=%v", out.LastStatusCode)
	}
	if gotHeaders.Get(HeaderEventID) != "e1" || gotHeaders.Get(HeaderDeliveryID) != "d1" || gotHeaders.Get(HeaderEventType) != audit.RunCreated {
		t.Fatalf("headers=%v", gotHeaders)
	}
	if gotHeaders.Get(HeaderSignature) != Sign("topsecret", payload) {
		t.Fatalf("signature=%s", gotHeaders.Get(HeaderSignature))
	}
}

func TestDispatcherFailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubWebhookRepo{due: []models.WebhookDelivery{
		{ID: "d1", TargetURL: srv.URL, Payload: []byte(`{}`), AttemptCount: 0},
		{ID: "d2", TargetURL: srv.URL, Payload: []byte(`{}`), AttemptCount: 4},
	}}
	d := &Dispatcher{
		Repo:   repo,
		Client: srv.Client(),
		Config: config.WebhookConfig{MaxAttempts: 5, BackoffBase: time.Second, BackoffMax: time.Minute},
		Now:    func() time.Time { return now },
	}
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run err=%v", err)
	}

	retry := repo.outcomes["d1"]
	if retry.Status != models.DeliveryPending || retry.AttemptCount != 1 {
		t.Fatalf("retry=%+v", retry)
	}
	if !retry.NextAttemptAt.Equal(now.Add(2 * time.Second)) {
		t.Fatalf("next=%v want=%v", retry.NextAttemptAt, now.Add(2*time.Second))
	}
	if retry.LastError == nil || *retry.LastError != "http 502" {
		t.Fatalf("last error=%v", retry.LastError)
	}

	final := repo.outcomes["d2"]
	if final.Status != models.DeliveryFailed || final.AttemptCount != 5 {
		t.Fatalf("final=%+v", final)
	}
}

func TestDispatcherHungSubscriberDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	repo := &stubWebhookRepo{due: []models.WebhookDelivery{
		{ID: "slow", TargetURL: srv.URL + "/slow", Payload: []byte(`{}`)},
		{ID: "fast", TargetURL: srv.URL + "/fast", Payload: []byte(`{}`)},
	}}
	d := &Dispatcher{
		Repo:   repo,
		Client: srv.Client(),
		Config: config.WebhookConfig{Workers: 2, RequestTimeout: 100 * time.Millisecond, MaxAttempts: 5},
	}
	start := time.Now()
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run err=%v", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("batch took %v", took)
	}
	if repo.outcomes["fast"].Status != models.DeliverySucceeded {
		t.Fatalf("fast=%+v", repo.outcomes["fast"])
	}
	if repo.outcomes["slow"].Status != models.DeliveryPending || repo.outcomes["slow"].LastError == nil {
		t.Fatalf("slow=%+v", repo.outcomes["slow"])
	}
}

func TestDispatcherRefillsFreedWorkers(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	repo := &stubWebhookRepo{due: []models.WebhookDelivery{
		{ID: "slow", TargetURL: srv.URL + "/slow", Payload: []byte(`{}`)},
		{ID: "f1", TargetURL: srv.URL + "/fast", Payload: []byte(`{}`)},
		{ID: "f2", TargetURL: srv.URL + "/fast", Payload: []byte(`{}`)},
		{ID: "f3", TargetURL: srv.URL + "/fast", Payload: []byte(`{}`)},
	}}
	d := &Dispatcher{
		Repo:   repo,
		Client: srv.Client(),
		Config: config.WebhookConfig{Workers: 2, BatchSize: 2, PollInterval: 10 * time.Millisecond, RequestTimeout: time.Minute},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		repo.mu.Lock()
		fast := 0
		for _, id := range []string{"f1", "f2", "f3"} {
			if repo.outcomes[id].Status == models.DeliverySucceeded {
				fast++
			}
		}
		_, slowDone := repo.outcomes["slow"]
		repo.mu.Unlock()
		if fast == 3 {
			if slowDone {
				t.Fatalf("slow delivery finished before release")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("fast deliveries=%d want=3 while one subscriber hangs", fast)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReclaimCountsAgainstMaxAttempts(t *testing.T) {
	repo := &stubWebhookRepo{reclaimed: 2}
	n, err := (&Dispatcher{Repo: repo}).Reclaim(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if repo.reclaimAt != 5 {
		t.Fatalf("max attempts=%d want=5", repo.reclaimAt)
	}
	if _, err := (&Dispatcher{Repo: repo, Config: config.WebhookConfig{MaxAttempts: 8}}).Reclaim(context.Background()); err != nil {
		t.Fatalf("reclaim err=%v", err)
	}
	if repo.reclaimAt != 8 {
		t.Fatalf("max attempts=%d want=8", repo.reclaimAt)
	}
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{6, time.Minute},
		{20, time.Minute},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt, time.Second, time.Minute); got != tc.want {
			t.Fatalf("attempt=%d got=%v want=%v", tc.attempt, got, tc.want)
		}
	}
	if got := Backoff(10, time.Second, 10*time.Minute); got != 64*time.Second {
		t.Fatalf("capped step got=%v want=64s", got)
	}
}

func TestPurgeUsesRetention(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	repo := &stubWebhookRepo{}
	d := &Dispatcher{Repo: repo, Config: config.WebhookConfig{SucceededRetention: 48 * time.Hour}, Now: func() time.Time { return now }}
	if _, err := d.Purge(context.Background()); err != nil {
		t.Fatalf("purge err=%v", err)
	}
	if !repo.purgedAt.Equal(now.Add(-48 * time.Hour)) {
		t.Fatalf("purged before=%v", repo.purgedAt)
	}
}

func TestSecretBoxRotation(t *testing.T) {
	old, err := NewSecretBox("0123456789abcdef0123456789abcdef", "")
	if err != nil {
		t.Fatalf("new box err=%v", err)
	}
	sealed, err := old.Seal("topsecret")
	if err != nil {
		t.Fatalf("seal err=%v", err)
	}
	if sealed == "topsecret" || !strings.HasPrefix(sealed, sealedPrefix) {
		t.Fatalf("sealed=%q want prefix %q", sealed, sealedPrefix)
	}

	rotated, err := NewSecretBox("fedcba9876543210fedcba9876543210", "0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("rotated box err=%v", err)
	}
	plain, err := rotated.Open(sealed)
	if err != nil || plain != "topsecret" {
		t.Fatalf("open=%q err=%v want=topsecret", plain, err)
	}

	fresh, _ := NewSecretBox("fedcba9876543210fedcba9876543210", "")
	if _, err := fresh.Open(sealed); err == nil {
		t.Fatalf("open without the sealing key succeeded")
	}
	var none *SecretBox
	if got, err := none.Open("legacy"); err != nil || got != "legacy" {
		t.Fatalf("nil box open=%q err=%v", got, err)
	}
	if _, err := none.Open(sealed); err == nil {
		t.Fatalf("nil box opened a sealed secret")
	}
	if _, err := NewSecretBox("short", ""); err == nil {
		t.Fatalf("short key accepted")
	}
}
