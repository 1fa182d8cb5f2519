package session

import (
	"context"
	"fmt"
)

type workerRun func(context.Context) error

func panicSafeNamedWorker(name string, run func(context.Context) error) workerRun {
	return func(ctx context.Context) (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("%s worker panicked: %v", name, recovered)
			}
		}()

		if err = run(ctx); err != nil {
			return fmt.Errorf("%s worker failed: %w", name, err)
		}

		return nil
	}
}

// safeCallback invokes a renderer callback, containing any panic so a faulty
// renderer cannot stop event handling.
func safeCallback(name string, callback func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("callback panicked", "callback", name, "panic", fmt.Sprint(recovered))
		}
	}()
	callback()
}
