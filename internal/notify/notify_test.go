package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kirinyoku/reservo/internal/domain"
	"github.com/kirinyoku/reservo/internal/notify"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	at := time.Date(2030, 6, 1, 9, 0, 0, 0, time.FixedZone("X", 3600))
	c := domain.StatusChange{
		ReservationID: "r1",
		FacilityID:    "room-a",
		RequesterID:   "alice",
		From:          domain.StatusPending,
		To:            domain.StatusApproved,
		ActorID:       "admin",
		At:            at,
	}

	msg, err := notify.Message(c)
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "r1:approved", msg.MessageId)
	assert.Equal(t, at.UTC(), msg.Timestamp)

	var got domain.StatusChange
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, c.ReservationID, got.ReservationID)
	assert.Equal(t, domain.StatusApproved, got.To)
	assert.True(t, at.Equal(got.At))
}

func TestNop(t *testing.T) {
	assert.NoError(t, notify.Nop{}.StatusChanged(context.Background(), domain.StatusChange{}))
}
