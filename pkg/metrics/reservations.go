package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels shared by the reservation counters.
const (
	OutcomeReserved  = "reserved"
	OutcomeContended = "contended"
	OutcomeError     = "error"
	OutcomeCommitted = "committed"
	OutcomeStale     = "stale"
	ReleaseExplicit  = "explicit"
	ReleaseSession   = "session"
	ReleaseExpired   = "expired"
)

// ReservationMetrics counts hold acquisitions, releases and checkout results.
type ReservationMetrics struct {
	reserve  *prometheus.CounterVec
	release  *prometheus.CounterVec
	checkout *prometheus.CounterVec
}

func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	m := &ReservationMetrics{
		reserve:  newCounter("reserve_attempts_total", "Reserve attempts by outcome.", "outcome"),
		release:  newCounter("reservations_released_total", "Reservations cleared by cause.", "cause"),
		checkout: newCounter("checkouts_total", "Checkout attempts by outcome.", "outcome"),
	}
	reg.MustRegister(m.reserve, m.release, m.checkout)
	return m
}

func (m *ReservationMetrics) IncReserve(outcome string) {
	if m != nil {
		inc(m.reserve, outcome)
	}
}

func (m *ReservationMetrics) IncRelease(cause string) {
	if m != nil {
		inc(m.release, cause)
	}
}

func (m *ReservationMetrics) IncCheckout(outcome string) {
	if m != nil {
		inc(m.checkout, outcome)
	}
}
