// persistence/interface.go
package persistence

import (
	"context"

	"github.com/wfunc/guessroulette/engine"
)

// Recorder archives finished games. Nothing is read back at startup.
type Recorder interface {
	SaveGameResult(ctx context.Context, res engine.Result) error
	Close() error
}

// NopRecorder discards results; used when no database is configured.
type NopRecorder struct{}

func (NopRecorder) SaveGameResult(ctx context.Context, res engine.Result) error { return nil }
func (NopRecorder) Close() error                                                { return nil }
