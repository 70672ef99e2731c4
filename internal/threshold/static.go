package threshold

import "github.com/marketcore/tickcore/internal/model"

// StaticProvider serves thresholds from a fixed map, useful for tests and
// file-loaded configuration that never changes at runtime.
type StaticProvider struct {
	values map[model.InstrumentID]float64
}

// NewStatic copies values into a StaticProvider; later mutation of the
// input map has no effect on the provider.
func NewStatic(values map[model.InstrumentID]float64) *StaticProvider {
	cp := make(map[model.InstrumentID]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &StaticProvider{values: cp}
}

func (p *StaticProvider) Threshold(instrument model.InstrumentID) (float64, bool) {
	v, ok := p.values[instrument]
	return v, ok
}
