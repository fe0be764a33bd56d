package observe

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Source is what Poll reads. *sim.Engine satisfies it.
type Source interface {
	Counts(points [][2]int, dst []int64) (float64, error)
	Steps() uint64
}

// Poll samples points from src every interval of wall-clock time and
// broadcasts a frame whenever the simulation clock has moved. It returns
// when ctx is done.
func Poll(ctx context.Context, h *Hub, src Source, points [][2]int, labels []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		counts := make([]int64, len(points))
		clock, err := src.Counts(points, counts)
		if err != nil {
			return err
		}
		if clock == last {
			continue
		}
		last = clock
		err = h.Broadcast(ctx, Frame{Time: clock, Steps: src.Steps(), Labels: labels, Counts: counts})
		switch {
		case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			logrus.Warnf("observe: frame at t=%g dropped: %v", clock, err)
		}
	}
}
