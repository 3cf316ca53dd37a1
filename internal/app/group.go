package app

import (
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errToolPanic marks a goroutine that panicked; its tool reports the sentinel.
var errToolPanic = errors.New("tool panicked")

// safeGo runs fn on g. A panic is logged and surfaces from g.Wait as
// errToolPanic.
func safeGo(g *errgroup.Group, logger *zap.Logger, tool string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("tool goroutine panicked",
					zap.String("tool", tool),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = fmt.Errorf("%w: %s: %v", errToolPanic, tool, r)
			}
		}()
		return fn()
	})
}
