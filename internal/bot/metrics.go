package bot

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeHandled = "handled"
	outcomeIgnored = "ignored"
	outcomeFailed  = "failed"

	resultOK    = "ok"
	resultError = "error"
)

var (
	// updatesTotal counts polled updates by processing outcome.
	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_updates_total",
			Help: "Telegram updates by processing outcome.",
		},
		[]string{"outcome"},
	)

	// sendsTotal counts outbound sendMessage calls by result.
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_sends_total",
			Help: "Outbound Telegram messages by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(updatesTotal, sendsTotal)
}
