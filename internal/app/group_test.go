package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func TestSafeGoRecovers(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	var g errgroup.Group
	done := false

	safeGo(&g, zap.New(core), "index search", func() error { panic("nil map") })
	safeGo(&g, zap.New(core), "analysis", func() error {
		done = true
		return nil
	})

	err := g.Wait()
	assert.True(t, errors.Is(err, errToolPanic))
	assert.True(t, done)
	entries := logs.FilterMessage("tool goroutine panicked").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "index search", entries[0].ContextMap()["tool"])
	}
}
