package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheduledMessage_Exhausted(t *testing.T) {
	three := int64(3)

	tests := []struct {
		name        string
		repeats     *int64
		repeatsMade int64
		want        bool
	}{
		{"unbounded schedule never exhausts", nil, 100, false},
		{"below limit", &three, 2, false},
		{"at limit", &three, 3, true},
		{"past limit", &three, 4, true},
		{"fresh schedule with a limit", &three, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScheduledMessage{Repeats: tt.repeats, RepeatsMade: tt.repeatsMade}
			assert.Equal(t, tt.want, s.Exhausted())
		})
	}
}

func TestScheduledMessage_TableName(t *testing.T) {
	assert.Equal(t, "scheduled_messages", ScheduledMessage{}.TableName())
}
