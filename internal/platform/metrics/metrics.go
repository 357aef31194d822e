package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the protocol engine. One
// bundle is created at wiring time and shared by injection.
type Metrics struct {
	InstructionsGenerated prometheus.Counter
	InstructionsAccepted  prometheus.Counter
	TZDTriggered          prometheus.Counter
	TZDCompleted          prometheus.Counter
	TZDFailed             prometheus.Counter
	PunishmentsRegistered prometheus.Counter
	LedgerEarns           prometheus.Counter
	LedgerSpends          prometheus.Counter
	LedgerRejections      prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		InstructionsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "protokoll_instructions_generated_total",
			Help: "Daily instructions generated, including plan-sourced ones",
		}),
		InstructionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "protokoll_instructions_accepted_total",
			Help: "Daily instructions accepted by the user",
		}),
		TZDTriggered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "protokoll_tzd_triggered_total",
			Help: "TZD locks entering the briefing stage",
		}),
		TZDCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "protokoll_tzd_completed_total",
			Help: "TZD locks resolved as completed",
		}),
		TZDFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "protokoll_tzd_failed_total",
			Help: "TZD locks resolved as failed via emergency abort",
		}),
		PunishmentsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "protokoll_punishments_registered_total",
			Help: "Punishment records registered or extended",
		}),
		LedgerEarns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "protokoll_ledger_earns_total",
			Help: "Time bank earn operations that credited a balance",
		}),
		LedgerSpends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "protokoll_ledger_spends_total",
			Help: "Time bank spend operations that debited a balance",
		}),
		LedgerRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "protokoll_ledger_rejections_total",
			Help: "Time bank operations rejected by policy",
		}),
	}
}
