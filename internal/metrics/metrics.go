package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced     Counter
	OrdersFilled     Counter
	OrdersCancelled  Counter
	OrdersRejected   Counter
	EntryRetries     Counter
	ChaseAborts      Counter
	ExitLegsPlaced   Counter
	ExitLegsFailed   Counter
	TradesActive     Counter
	TradesCancelled  Counter
	TradesFailed     Counter
	StreamReconnects Counter
	StreamMessages   Counter
	BusSignals       Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:     n,
		OrdersFilled:     n,
		OrdersCancelled:  n,
		OrdersRejected:   n,
		EntryRetries:     n,
		ChaseAborts:      n,
		ExitLegsPlaced:   n,
		ExitLegsFailed:   n,
		TradesActive:     n,
		TradesCancelled:  n,
		TradesFailed:     n,
		StreamReconnects: n,
		StreamMessages:   n,
		BusSignals:       n,
	}
}
