package export

import (
	"math"
	"sort"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/sensorlog/internal/record"
)

// DefaultAccuracy is the relative accuracy of summary percentiles.
const DefaultAccuracy = 0.01

// Summary holds statistics for one sensor.
type Summary struct {
	SensorID string
	Count    int64
	Sum      float64
	Min      float64
	Max      float64
	Avg      float64
	FirstTs  int64
	LastTs   int64

	// Percentiles are nil when no sketch was kept.
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64
}

// Aggregator maintains running statistics for one sensor.
// It is not safe for concurrent use.
type Aggregator struct {
	sensor  string
	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs int64
	lastTs  int64
	sketch  *ddsketch.DDSketch
}

// NewAggregator creates an aggregator. accuracy <= 0 disables percentiles.
func NewAggregator(sensor string, accuracy float64) *Aggregator {
	a := &Aggregator{
		sensor: sensor,
		min:    math.MaxFloat64,
		max:    -math.MaxFloat64,
	}
	if accuracy > 0 {
		if sketch, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
			a.sketch = sketch
		}
	}
	return a
}

// Add adds one reading.
func (a *Aggregator) Add(value float64, ts int64) {
	if a.count == 0 || ts < a.firstTs {
		a.firstTs = ts
	}
	if a.count == 0 || ts > a.lastTs {
		a.lastTs = ts
	}

	a.count++
	a.sum += value
	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// Count returns the number of readings added.
func (a *Aggregator) Count() int64 { return a.count }

// Result returns the summary so far.
func (a *Aggregator) Result() Summary {
	s := Summary{
		SensorID: a.sensor,
		Count:    a.count,
		Sum:      a.sum,
		FirstTs:  a.firstTs,
		LastTs:   a.lastTs,
	}
	if a.count == 0 {
		return s
	}

	s.Min = a.min
	s.Max = a.max
	s.Avg = a.sum / float64(a.count)

	if a.sketch != nil {
		s.P50 = quantile(a.sketch, 0.50)
		s.P90 = quantile(a.sketch, 0.90)
		s.P95 = quantile(a.sketch, 0.95)
		s.P99 = quantile(a.sketch, 0.99)
	}
	return s
}

func quantile(sk *ddsketch.DDSketch, q float64) *float64 {
	v, err := sk.GetValueAtQuantile(q)
	if err != nil {
		return nil
	}
	return &v
}

// Summarize groups records by sensor and returns one summary per sensor,
// sorted by sensor id.
func Summarize(records []record.Record, accuracy float64) []Summary {
	aggs := make(map[string]*Aggregator)
	for _, r := range records {
		id := r.SensorID.String()
		a, ok := aggs[id]
		if !ok {
			a = NewAggregator(id, accuracy)
			aggs[id] = a
		}
		a.Add(r.Value, r.Timestamp)
	}

	out := make([]Summary, 0, len(aggs))
	for _, a := range aggs {
		out = append(out, a.Result())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}
