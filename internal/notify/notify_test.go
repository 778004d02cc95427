package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipway-io/slipway/internal/ir"
	"github.com/slipway-io/slipway/internal/record"
)

func TestSlackNotifier_PostsSummary(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL, "#deploys", fastSlackTiming())

	require.NoError(t, notifier.Notify(context.Background(), sampleRecord(ir.RunSucceeded)))

	assert.Contains(t, body, "Deploy talentradar: succeeded")
	assert.Contains(t, body, "#deploys")
	assert.Contains(t, body, "cache.talentradar-cache")
}

func TestSlackNotifier_ReportsFailedNodes(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := sampleRecord(ir.RunPartiallyFailed)
	rec.PerNode = append(rec.PerNode, &ir.ExecutionResult{
		NodeID:      "autoscale",
		Identity:    "autoscale.talentradar-scaling",
		Status:      ir.StatusFailed,
		ErrorKind:   "PROVIDER_REJECTED",
		ErrorDetail: "scaling target not supported",
	})

	notifier := NewSlackNotifier(server.URL, "", fastSlackTiming())
	require.NoError(t, notifier.Notify(context.Background(), rec))

	assert.Contains(t, body, "partially-failed")
	assert.Contains(t, body, "PROVIDER_REJECTED")
	assert.Contains(t, body, "scaling target not supported")
}

// Notifiers receive the redacted record form, so nothing secret can
// reach the wire even if a block builder dumps every field it sees.
func TestSlackNotifier_PayloadCarriesNoSecretValues(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := sampleRecord(ir.RunSucceeded)
	rec.PerNode[0].ProducedSecrets = map[string]string{"connectionString": "redis://10.0.0.5:6379"}

	notifier := NewSlackNotifier(server.URL, "", fastSlackTiming())
	require.NoError(t, notifier.Notify(context.Background(), rec))

	assert.NotContains(t, body, "redis://10.0.0.5:6379")
}

func TestSlackNotifier_EmptyURLIsNoop(t *testing.T) {
	notifier := NewSlackNotifier("", "")

	_, ok := notifier.(Noop)
	assert.True(t, ok)
	assert.NoError(t, notifier.Notify(context.Background(), sampleRecord(ir.RunSucceeded)))
}

func TestWebhookNotifier_PostsRecordJSON(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, fastWebhookTiming())
	require.NoError(t, notifier.Notify(context.Background(), sampleRecord(ir.RunSucceeded)))

	got, err := record.Unmarshal(body)
	require.NoError(t, err)
	assert.Equal(t, "talentradar", got.App)
	assert.Equal(t, ir.RunSucceeded, got.RunState)
}

func TestWebhookNotifier_RetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, fastWebhookTiming())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, notifier.Notify(ctx, sampleRecord(ir.RunSucceeded)))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestWebhookNotifier_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "malformed payload")
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, fastWebhookTiming())

	err := notifier.Notify(context.Background(), sampleRecord(ir.RunSucceeded))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed payload")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWebhookNotifier_HonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, fastWebhookTiming())

	start := time.Now()
	require.NoError(t, notifier.Notify(context.Background(), sampleRecord(ir.RunSucceeded)))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestMulti_RunsAllAndReportsFirstError(t *testing.T) {
	var order []string
	first := notifierFunc(func(context.Context, *record.Record) error {
		order = append(order, "first")
		return errors.New("slack down")
	})
	second := notifierFunc(func(context.Context, *record.Record) error {
		order = append(order, "second")
		return nil
	})

	err := NewMulti(first, nil, second).Notify(context.Background(), sampleRecord(ir.RunSucceeded))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack down")
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestNoop_DoesNothing(t *testing.T) {
	assert.NoError(t, Noop{}.Notify(context.Background(), nil))
}

type notifierFunc func(ctx context.Context, rec *record.Record) error

func (f notifierFunc) Notify(ctx context.Context, rec *record.Record) error {
	return f(ctx, rec)
}

func fastSlackTiming() SlackOption {
	return WithSlackTiming(time.Millisecond, 10, time.Millisecond, 5*time.Millisecond, 100*time.Millisecond)
}

func fastWebhookTiming() WebhookOption {
	return WithWebhookTiming(time.Millisecond, 10, time.Millisecond, 5*time.Millisecond, 100*time.Millisecond)
}

func sampleRecord(state ir.RunState) *record.Record {
	started := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	outcome := &ir.DeploymentOutcome{
		PlanVersionTag: "v42",
		RunState:       state,
		HealthStatus:   ir.HealthHealthy,
		StartedAt:      started,
		FinishedAt:     started.Add(2 * time.Minute),
		PerNode: []*ir.ExecutionResult{
			{NodeID: "cache", Identity: "cache.talentradar-cache", Status: ir.StatusCreated, SecretKeys: []string{"connectionString"}},
			{NodeID: "app", Identity: "app.talentradar", Status: ir.StatusCreated},
		},
	}
	return record.FromOutcome(outcome, "talentradar", "aws", "eu-west-1")
}
