package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink records draft and dispatch activity in Prometheus metrics. A nil *Sink
// is valid and records nothing.
type Sink struct {
	saves       *prometheus.CounterVec
	autosaves   *prometheus.CounterVec
	submissions *prometheus.CounterVec
	assignments *prometheus.CounterVec
	finalized   *prometheus.CounterVec
	taxis       prometheus.Gauge
}

// NewSink registers metrics on the default Prometheus registerer.
func NewSink() (*Sink, error) {
	return NewSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewSinkWithRegistry(reg prometheus.Registerer) (*Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &Sink{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rideline_store_writes_total",
			Help: "Local store writes by namespace and result",
		}, []string{"namespace", "result"}),
		autosaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rideline_autosave_failures_total",
			Help: "Best-effort autosaves that failed",
		}, []string{"session"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rideline_submissions_total",
			Help: "Submissions sent to the request gateway by result",
		}, []string{"result"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rideline_taxi_assignments_total",
			Help: "Passenger assign/unassign operations by outcome",
		}, []string{"op", "result"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rideline_allocations_finalized_total",
			Help: "Finalize attempts by result",
		}, []string{"result"}),
		taxis: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rideline_dispatched_taxis_total",
			Help: "Virtual taxis dispatched since start",
		}),
	}
	var err error
	if s.saves, err = registerCounterVec(reg, s.saves); err != nil {
		return nil, err
	}
	if s.autosaves, err = registerCounterVec(reg, s.autosaves); err != nil {
		return nil, err
	}
	if s.submissions, err = registerCounterVec(reg, s.submissions); err != nil {
		return nil, err
	}
	if s.assignments, err = registerCounterVec(reg, s.assignments); err != nil {
		return nil, err
	}
	if s.finalized, err = registerCounterVec(reg, s.finalized); err != nil {
		return nil, err
	}
	if err := reg.Register(s.taxis); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			s.taxis = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}
	return s, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec), nil
		}
		return nil, err
	}
	return c, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (s *Sink) StoreWrite(namespace string, err error) {
	if s == nil {
		return
	}
	s.saves.WithLabelValues(namespace, result(err)).Inc()
}

func (s *Sink) AutosaveFailed(session string) {
	if s == nil {
		return
	}
	s.autosaves.WithLabelValues(session).Inc()
}

func (s *Sink) Submission(err error) {
	if s == nil {
		return
	}
	s.submissions.WithLabelValues(result(err)).Inc()
}

func (s *Sink) Assignment(op string, err error) {
	if s == nil {
		return
	}
	s.assignments.WithLabelValues(op, result(err)).Inc()
}

func (s *Sink) Finalized(taxis int, err error) {
	if s == nil {
		return
	}
	s.finalized.WithLabelValues(result(err)).Inc()
	if err == nil {
		s.taxis.Add(float64(taxis))
	}
}
