package payments

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/clubpay-backend/internal/dispatch"
	"github.com/angelmondragon/clubpay-backend/internal/gateway"
	"github.com/angelmondragon/clubpay-backend/internal/gateway/gatewaytest"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/queue"
)

func newWebhookQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := queue.New(queue.Params{
		Client: client,
		Name:   dispatch.QueuePaymentWebhooks,
		Prefix: "test",
		Defaults: queue.Options{
			Attempts:      5,
			Backoff:       time.Second,
			KeepCompleted: time.Hour,
			KeepFailed:    24 * time.Hour,
		},
	})
	require.NoError(t, err)
	return q
}

func newTestIngestor(t *testing.T) (*Ingestor, *gatewaytest.Gateway, *queue.Queue) {
	t.Helper()
	fake := gatewaytest.New("fake", "whsec")
	registry, err := gateway.NewRegistry(fake)
	require.NoError(t, err)
	q := newWebhookQueue(t)
	ingestor, err := NewIngestor(registry, q, nil, nil)
	require.NoError(t, err)
	return ingestor, fake, q
}

func TestIngestEnqueuesVerifiedEvent(t *testing.T) {
	ingestor, fake, q := newTestIngestor(t)
	chargeID := uuid.NewString()
	body, headers := fake.Request(gatewaytest.Payload{
		ID:            "evt_1",
		TransactionID: "txn_1",
		Kind:          "paid",
		ChargeID:      chargeID,
		TenantID:      clubA,
		AmountCents:   15000,
	})

	result, err := ingestor.Ingest(context.Background(), "FAKE", body, headers)
	require.NoError(t, err)
	require.True(t, result.Enqueued)
	require.Equal(t, "webhook:fake:txn_1", result.JobID)

	job, err := q.Get(context.Background(), result.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, dispatch.JobPaymentWebhook, job.Name)

	var event gateway.NormalizedEvent
	require.NoError(t, job.Decode(&event))
	require.Equal(t, chargeID, event.ChargeID)
	require.Equal(t, enums.WebhookEventPaid, event.Kind)
	require.JSONEq(t, string(body), string(event.Raw))
}

func TestIngestDeduplicatesRedelivery(t *testing.T) {
	ingestor, fake, q := newTestIngestor(t)
	body, headers := fake.Request(gatewaytest.Payload{TransactionID: "txn_1", Kind: "paid", ChargeID: uuid.NewString()})

	first, err := ingestor.Ingest(context.Background(), "fake", body, headers)
	require.NoError(t, err)
	require.True(t, first.Enqueued)

	second, err := ingestor.Ingest(context.Background(), "fake", body, headers)
	require.NoError(t, err)
	require.False(t, second.Enqueued)
	require.Equal(t, first.JobID, second.JobID)

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, counts.Waiting)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	ingestor, fake, q := newTestIngestor(t)
	body, headers := fake.Request(gatewaytest.Payload{TransactionID: "txn_1", Kind: "paid"})
	headers.Set(gatewaytest.SignatureHeader, "deadbeef")

	_, err := ingestor.Ingest(context.Background(), "fake", body, headers)
	require.Error(t, err)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))

	_, err = ingestor.Ingest(context.Background(), "fake", body, http.Header{})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	require.Zero(t, counts.Waiting)
}

func TestIngestUnknownGateway(t *testing.T) {
	ingestor, fake, _ := newTestIngestor(t)
	body, headers := fake.Request(gatewaytest.Payload{TransactionID: "txn_1", Kind: "paid"})

	_, err := ingestor.Ingest(context.Background(), "paypal", body, headers)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestIngestIgnoredEventIsNotQueued(t *testing.T) {
	ingestor, fake, q := newTestIngestor(t)
	body, headers := fake.Request(gatewaytest.Payload{TransactionID: "txn_1", Kind: "ignored"})

	result, err := ingestor.Ingest(context.Background(), "fake", body, headers)
	require.NoError(t, err)
	require.True(t, result.Ignored)
	require.False(t, result.Enqueued)

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	require.Zero(t, counts.Waiting)
}

func TestIngestIncompleteEventRejected(t *testing.T) {
	ingestor, fake, _ := newTestIngestor(t)
	body, headers := fake.Request(gatewaytest.Payload{Kind: "paid"})

	_, err := ingestor.Ingest(context.Background(), "fake", body, headers)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestWebhookRoundTripPostsOnePayment(t *testing.T) {
	f := newProcessorFixture(t)
	charge := f.seedCharge(t, clubA, enums.ChargeStatusPending, "fake_1")
	ingestor, fake, q := newTestIngestor(t)

	worker, err := queue.NewWorker(queue.WorkerParams{Queue: q, Handler: f.processor.Handle})
	require.NoError(t, err)

	body, headers := fake.Request(gatewaytest.Payload{
		TransactionID: "txn_1",
		Kind:          "paid",
		ChargeID:      charge.ID.String(),
		TenantID:      clubA,
		AmountCents:   charge.AmountCents,
	})
	for i := 0; i < 2; i++ {
		_, err := ingestor.Ingest(context.Background(), "fake", body, headers)
		require.NoError(t, err)
	}

	found, err := worker.ProcessNext(context.Background(), "test")
	require.NoError(t, err)
	require.True(t, found)
	found, err = worker.ProcessNext(context.Background(), "test")
	require.NoError(t, err)
	require.False(t, found)

	require.Len(t, f.payments(t, clubA), 1)
	require.Equal(t, enums.ChargeStatusPaid, f.charge(t, clubA, charge.ID).Status)

	job, err := q.Get(context.Background(), "webhook:fake:txn_1")
	require.NoError(t, err)
	require.Equal(t, queue.StateCompleted, job.State)
}
