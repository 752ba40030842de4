package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/san-kum/stabsim/internal/dynamo"
)

const namespace = "stabsim"

// Recorder publishes live engine counters. A nil *Recorder is a no-op so
// the engine can call it unconditionally.
type Recorder struct {
	ticks        prometheus.Counter
	trips        *prometheus.CounterVec
	disturbances *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	resets       prometheus.Counter
	output       prometheus.Gauge
	faultEnergy  prometheus.Gauge
	tripped      prometheus.Gauge
}

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Number of executed engine ticks.",
		}),
		trips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trips_total",
			Help:      "Number of protection trips by reason.",
		}, []string{"reason"}),
		disturbances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disturbances_total",
			Help:      "Number of one-shot disturbances applied by kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_commands_total",
			Help:      "Number of commands rejected by validation, by field.",
		}, []string{"field"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Number of latch resets.",
		}),
		output: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_volts",
			Help:      "Output voltage after the last tick.",
		}),
		faultEnergy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fault_energy",
			Help:      "Accumulated fuse energy after the last tick.",
		}),
		tripped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tripped",
			Help:      "1 while the protection latch is tripped.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.ticks, r.trips, r.disturbances, r.rejected, r.resets, r.output, r.faultEnergy, r.tripped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveTick records one executed tick.
func (r *Recorder) ObserveTick(s dynamo.Sample) {
	if r == nil {
		return
	}
	r.ticks.Inc()
	r.output.Set(s.Output)
	r.faultEnergy.Set(s.FaultEnergy)
	if s.Faulted {
		r.tripped.Set(1)
	} else {
		r.tripped.Set(0)
	}
	if s.Inductive != 0 {
		r.disturbances.WithLabelValues(dynamo.Inductive.String()).Inc()
	}
	if s.Electromagnetic != 0 {
		r.disturbances.WithLabelValues(dynamo.Electromagnetic.String()).Inc()
	}
}

func (r *Recorder) Trip(reason dynamo.TripReason) {
	if r == nil {
		return
	}
	r.trips.WithLabelValues(reason.String()).Inc()
}

func (r *Recorder) Rejected(field string) {
	if r == nil {
		return
	}
	r.rejected.WithLabelValues(field).Inc()
}

func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.resets.Inc()
	r.tripped.Set(0)
}

// WriteTextfile dumps every metric gathered by g in the text exposition
// format, for node_exporter style collection.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

// TripCounter exposes the trip counter for reason.
func (r *Recorder) TripCounter(reason dynamo.TripReason) prometheus.Counter {
	return r.trips.WithLabelValues(reason.String())
}
