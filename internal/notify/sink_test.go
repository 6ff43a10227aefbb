package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSink_Notify(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	userID := uuid.New()

	sink.Notify(context.Background(), userID, Notification{
		Kind:  KindPayout,
		Title: "Payout released",
		Data:  map[string]string{"amount": "2700"},
	})

	entries := logs.FilterMessage("Notification").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, userID.String(), fields["user_id"])
		assert.Equal(t, "payout", fields["kind"])
	}
}

func TestPublisher_ClosedDropsSilently(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := &Publisher{exchange: "x", log: zap.New(core), closed: true}

	assert.NotPanics(t, func() {
		p.Notify(context.Background(), uuid.New(), Notification{Kind: KindNewMessage})
	})
	assert.Equal(t, 1, logs.FilterMessage("Notification dropped, publisher closed").Len())
}
