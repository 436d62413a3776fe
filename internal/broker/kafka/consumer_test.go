package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CallsHandlerAndCommits(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []byte("k"), gotK)
	require.Equal(t, []byte("v"), gotV)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(k, v []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumer_ConsumeShipmentChanges_SkipsMalformed(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("1"), Value: []byte("{broken")},
			{Key: []byte("2")},
			{Key: []byte("3"), Value: []byte(`{"shipment_id":3,"tracking_token":"tok-3","status":"DISPATCHED"}`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got []messages.ShipmentChanged
	err := c.ConsumeShipmentChanges(context.Background(), func(ctx context.Context, m messages.ShipmentChanged) error {
		got = append(got, m)
		return nil
	})
	require.ErrorContains(t, err, "stop")
	require.Len(t, got, 1)
	require.Equal(t, uint64(3), got[0].ShipmentID)
	require.Equal(t, "tok-3", got[0].TrackingToken)
	// все три закоммичены, битые тоже
	require.Len(t, fr.committed, 3)
}

func TestConsumer_ConsumeShipmentChanges_HandlerErrorKeepsRecord(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Value: []byte(`{"shipment_id":4,"tracking_token":"tok-4"}`)}}}
	c := newConsumerWithReader(fr)

	want := errors.New("redis down")
	err := c.ConsumeShipmentChanges(context.Background(), func(ctx context.Context, m messages.ShipmentChanged) error {
		return want
	})
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())

	solo := NewConsumer([]string{"localhost:0"}, "t", "")
	require.NotNil(t, solo)
	require.NoError(t, solo.Close())
}
