package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Point is a flattened data point for the instruments endpoint.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// Provider owns an in-process MeterProvider whose instruments can be read
// back on demand.
type Provider struct {
	reader *sdkmetric.ManualReader
	mp     *sdkmetric.MeterProvider
}

// NewProvider creates a MeterProvider backed by a manual reader.
func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()

	return &Provider{
		reader: reader,
		mp:     sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

// Recorder returns a recorder bound to this provider.
func (p *Provider) Recorder() *Recorder {
	return NewWithMeter(p.mp.Meter(meterName))
}

// Snapshot collects every instrument and returns its data points sorted
// by name.
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}

	points := make([]Point, 0, 16)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			points = append(points, flatten(m)...)
		}
	}

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Name != points[j].Name {
			return points[i].Name < points[j].Name
		}

		return attrString(points[i].Attributes) < attrString(points[j].Attributes)
	})

	return points, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

func flatten(m metricdata.Metrics) []Point {
	var out []Point

	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			out = append(out, Point{
				Name: m.Name, Attributes: attrs(dp.Attributes), Value: float64(dp.Value),
			})
		}
	case metricdata.Sum[float64]:
		for _, dp := range data.DataPoints {
			out = append(out, Point{
				Name: m.Name, Attributes: attrs(dp.Attributes), Value: dp.Value,
			})
		}
	case metricdata.Gauge[int64]:
		for _, dp := range data.DataPoints {
			out = append(out, Point{
				Name: m.Name, Attributes: attrs(dp.Attributes), Value: float64(dp.Value),
			})
		}
	case metricdata.Histogram[float64]:
		for _, dp := range data.DataPoints {
			out = append(out, Point{
				Name: m.Name, Attributes: attrs(dp.Attributes),
				Value: dp.Sum, Count: dp.Count,
			})
		}
	}

	return out
}

func attrs(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}

	out := make(map[string]string, set.Len())

	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}

	return out
}

func attrString(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[k])
		b.WriteByte(',')
	}

	return b.String()
}
