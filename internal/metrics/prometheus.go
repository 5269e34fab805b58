package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "aster_fleet_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) promCounter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return promCounter{c}
	}

	m := &Metrics{
		OrdersPlaced:     counter("orders_placed_total", "Total number of orders submitted to the venue."),
		OrdersFilled:     counter("orders_filled_total", "Total number of orders confirmed filled."),
		OrdersCancelled:  counter("orders_cancelled_total", "Total number of orders cancelled before filling."),
		OrdersRejected:   counter("orders_rejected_total", "Total number of orders rejected synchronously by the venue."),
		EntryRetries:     counter("entry_retries_total", "Total number of entry reprice-and-resubmit attempts."),
		ChaseAborts:      counter("chase_aborts_total", "Total number of entries abandoned because of chase limit breaches."),
		ExitLegsPlaced:   counter("exit_legs_placed_total", "Total number of exit legs accepted by the venue."),
		ExitLegsFailed:   counter("exit_legs_failed_total", "Total number of exit legs that failed to place."),
		TradesActive:     counter("trades_active_total", "Total number of trades that reached the active state."),
		TradesCancelled:  counter("trades_cancelled_total", "Total number of trades whose entry never filled."),
		TradesFailed:     counter("trades_failed_total", "Total number of trades that terminated in the failed state."),
		StreamReconnects: counter("stream_reconnects_total", "Total number of quote stream reconnects."),
		StreamMessages:   counter("stream_messages_total", "Total number of quote stream messages consumed."),
		BusSignals:       counter("bus_signals_total", "Total number of signal bus messages received."),
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
