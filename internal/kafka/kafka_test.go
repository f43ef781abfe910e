package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/template-scoreboard/internal/config"
	"github.com/template-scoreboard/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeTrackRequest(t *testing.T) {
	req, err := DecodeTrackRequest([]byte(`{"item_id":"E1","kind":"example","owner_user_id":"U2","creator_user_id":"U1","created_at":"2024-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "E1", req.ItemID)
	assert.Equal(t, domain.KindExample, req.Kind)
	assert.Equal(t, "U1", req.CreatorUserID)

	_, err = DecodeTrackRequest([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = DecodeTrackRequest([]byte(`{"item_id":"E1","kind":"example"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = DecodeTrackRequest([]byte(`{"item_id":"E1","kind":"video","owner_user_id":"U2"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPublisherNotify(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event FinalizedEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.EventID == "" {
			return errors.New("missing event id")
		}
		if event.Item.ItemID != "S1" || event.Item.FinalScore != 10 {
			return errors.New("unexpected item")
		}
		return nil
	})

	p := NewPublisherWithProducer(producer, "scoreboard-finalized", discardLogger())
	err := p.Notify(context.Background(), domain.FinalizedItem{ItemID: "S1", FinalScore: 10})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestPublisherNotifyError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherWithProducer(producer, "scoreboard-finalized", discardLogger())
	err := p.Notify(context.Background(), domain.FinalizedItem{ItemID: "S1"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

type stubHandler struct {
	errs  []error
	calls int
}

func (s *stubHandler) Track(_ context.Context, req domain.TrackRequest) (*domain.TrackedItem, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.TrackedItem{ID: req.ItemID}, nil
}

func newTestConsumer(h TrackHandler) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:  &config.KafkaConfig{RetryAttempts: 3, RetryDelay: time.Millisecond},
		handler: h,
		logger:  discardLogger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func TestConsumerTrackRetriesTransientErrors(t *testing.T) {
	h := &stubHandler{errs: []error{errors.New("db down"), nil}}
	c := newTestConsumer(h)
	defer c.cancel()

	require.NoError(t, c.track(domain.TrackRequest{ItemID: "S1"}))
	assert.Equal(t, 2, h.calls)
}

func TestConsumerTrackTreatsDuplicateAsDone(t *testing.T) {
	h := &stubHandler{errs: []error{domain.ErrAlreadyTracked}}
	c := newTestConsumer(h)
	defer c.cancel()

	require.NoError(t, c.track(domain.TrackRequest{ItemID: "S1"}))
	assert.Equal(t, 1, h.calls)
}

func TestConsumerTrackDoesNotRetryRejected(t *testing.T) {
	h := &stubHandler{errs: []error{domain.ErrItemTooOld}}
	c := newTestConsumer(h)
	defer c.cancel()

	assert.ErrorIs(t, c.track(domain.TrackRequest{ItemID: "S1"}), domain.ErrItemTooOld)
	assert.Equal(t, 1, h.calls)
}

func TestConsumerTrackDoesNotRetryPermanentFailures(t *testing.T) {
	for _, permanent := range []error{domain.ErrContentDeleted, domain.ErrInvalidTrackingRecord} {
		h := &stubHandler{errs: []error{permanent, nil}}
		c := newTestConsumer(h)

		assert.ErrorIs(t, c.track(domain.TrackRequest{ItemID: "S1"}), permanent)
		assert.Equal(t, 1, h.calls)
		c.cancel()
	}
}
