package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "What is the policy?", Topic("  What is the policy?\nsecond line"))
	long := strings.Repeat("é", 130)
	assert.Equal(t, strings.Repeat("é", 120)+"...", Topic(long))
}

func TestNewRecord(t *testing.T) {
	r := NewRecord("c1", "u1", "How many?", "42", "Python", "plan", 3)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.Timestamp.IsZero())
	assert.Equal(t, "How many?", r.Topic)
	assert.Equal(t, 3, r.TurnCount)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Append(context.Background(), NewRecord("c1", "u1", "q", "a", "Index", "", 1)))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "interaction", entry.Message)
	assert.Equal(t, "Index", entry.ContextMap()["source"])
}
