package export

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/sensorlog/internal/record"
	"github.com/xtxerr/sensorlog/internal/store"
)

// collectWorkers bounds concurrent file reads in Collect.
const collectWorkers = 8

// Collect reads every sensor log whose id starts with prefix. Records are
// grouped by sensor in id order and keep append order within a sensor.
func Collect(ctx context.Context, st *store.Store, prefix string) ([]record.Record, error) {
	ids, err := st.Sensors(ctx)
	if err != nil {
		return nil, err
	}

	var selected []record.SensorID
	for _, id := range ids {
		if strings.HasPrefix(id.String(), prefix) {
			selected = append(selected, id)
		}
	}

	perSensor := make([][]record.Record, len(selected))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(collectWorkers)
	for i, id := range selected {
		i, id := i, id
		g.Go(func() error {
			recs, err := st.ReadAll(ctx, id)
			if err != nil {
				return fmt.Errorf("collect %s: %w", id, err)
			}
			perSensor[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, recs := range perSensor {
		total += len(recs)
	}
	out := make([]record.Record, 0, total)
	for _, recs := range perSensor {
		out = append(out, recs...)
	}
	return out, nil
}
