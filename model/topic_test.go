package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTopic(t *testing.T) {
	before := time.Now()
	topic := NewTopic("topic-1", "orders", 1000)
	after := time.Now()

	assert.Equal(t, "topic-1", topic.ID)
	assert.Equal(t, "orders", topic.Name)
	assert.Equal(t, int64(1000), topic.MaxRetention)
	assert.WithinDuration(t, before, topic.CreatedAt, time.Second)
	assert.True(t, !topic.CreatedAt.After(after.Add(time.Second)))
}

func TestNewTopic_Unbounded(t *testing.T) {
	topic := NewTopic("topic-2", "events", Unbounded)
	assert.Equal(t, Unbounded, topic.MaxRetention)
	assert.Equal(t, int64(-1), topic.MaxRetention)
}

func TestTopic_TableName(t *testing.T) {
	assert.Equal(t, "topics", Topic{}.TableName())
}
