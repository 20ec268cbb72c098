package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeadLetter_TableName(t *testing.T) {
	assert.Equal(t, "dead_letters", DeadLetter{}.TableName())
}

func TestDeadLetterStats_ZeroValueHasNilBounds(t *testing.T) {
	stats := DeadLetterStats{SubscriptionID: "s1"}

	assert.Equal(t, int64(0), stats.Total)
	assert.Nil(t, stats.OldestAt)
	assert.Nil(t, stats.NewestAt)
}

func TestDeadLetterStats_BoundsReflectOldestAndNewest(t *testing.T) {
	oldest := time.Now().Add(-time.Hour).UTC()
	newest := time.Now().UTC()
	stats := DeadLetterStats{SubscriptionID: "s1", Total: 3, OldestAt: &oldest, NewestAt: &newest}

	assert.True(t, stats.OldestAt.Before(*stats.NewestAt))
	assert.Equal(t, int64(3), stats.Total)
}
