package search

import (
	"time"

	"github.com/standardbeagle/sift/internal/cache"
	"github.com/standardbeagle/sift/internal/types"
)

// Observer receives run lifecycle notifications, e.g. for metrics.
// Calls may arrive concurrently from scan tasks and must not block.
type Observer interface {
	RunStarted(origin cache.Origin, mode types.SearchMode)
	FileScanned(err error)
	RunFinished(state State, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RunStarted(cache.Origin, types.SearchMode) {}
func (nopObserver) FileScanned(error)                         {}
func (nopObserver) RunFinished(State, time.Duration)          {}
