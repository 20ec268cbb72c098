package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionMessage_TableName(t *testing.T) {
	assert.Equal(t, "subscription_messages", SubscriptionMessage{}.TableName())
}

func TestSubscriptionMessage_ZeroValueHasNoOptionalFields(t *testing.T) {
	sm := SubscriptionMessage{SubscriptionID: "s1", MessageID: "m1", Status: StatusWaiting}

	assert.Nil(t, sm.AvailableAt)
	assert.Nil(t, sm.ErrorStack)
	assert.Nil(t, sm.LastHeartbeatAt)
	assert.Nil(t, sm.Progress)
	assert.Equal(t, 0, sm.StaleCount)
}

func TestSubscriptionMessage_ProgressRoundTripsThroughJSON(t *testing.T) {
	sm := SubscriptionMessage{
		SubscriptionID: "s1",
		MessageID:      "m1",
		Status:         StatusProcessing,
		Progress:       json.RawMessage(`{"percent":42}`),
	}

	encoded, err := json.Marshal(sm)
	assert.NoError(t, err)

	var decoded SubscriptionMessage
	assert.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.JSONEq(t, `{"percent":42}`, string(decoded.Progress))
}

func TestReservedMessage_CarriesJoinedMessageFields(t *testing.T) {
	now := time.Now().UTC()
	priority := int32(1)
	rm := ReservedMessage{
		SubscriptionID: "s1",
		MessageID:      "m1",
		TopicID:        "t1",
		Payload:        json.RawMessage(`{"x":1}`),
		Attempts:       2,
		Priority:       &priority,
		CreatedAt:      now,
	}

	assert.Equal(t, "t1", rm.TopicID)
	assert.Equal(t, 2, rm.Attempts)
	assert.Equal(t, int32(1), *rm.Priority)
}
