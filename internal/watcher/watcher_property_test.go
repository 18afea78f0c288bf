//go:build property

package watcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties validates the batching of the debouncer
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("a burst yields one batch with one event per path", prop.ForAll(
		func(changeCount, fileCount int) bool {
			d := &Debouncer{
				delay:  5 * time.Millisecond,
				events: make(chan ChangeEvent, 1),
				output: make(chan []ChangeEvent, 2),
			}

			for i := 0; i < changeCount; i++ {
				d.addEvent(ChangeEvent{
					Type: EventTypeModified,
					Path: fmt.Sprintf("file%d", i%fileCount),
				})
			}

			select {
			case batch := <-d.output:
				want := fileCount
				if changeCount < fileCount {
					want = changeCount
				}
				if len(batch) != want {
					return false
				}
			case <-time.After(time.Second):
				return false
			}

			select {
			case <-d.output:
				return false
			case <-time.After(20 * time.Millisecond):
				return true
			}
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}
