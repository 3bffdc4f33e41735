package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	DestructionRequests      *prometheus.CounterVec
	ApprovalDecisions        *prometheus.CounterVec
	AuditEntriesAppended     prometheus.Counter
	ChainIntegrityViolations prometheus.Counter
	CertificatesIssued       prometheus.Counter
	EscalationSweepRuns      prometheus.Counter
	StepsEscalated           prometheus.Counter
	StepsExpired             prometheus.Counter
	NotificationFailures     prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		DestructionRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_destruction_requests_total",
			Help: "Destruction request transitions by resulting state",
		}, []string{"state"}),
		ApprovalDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_approval_decisions_total",
			Help: "Approval step decisions recorded, by decision",
		}, []string{"decision"}),
		AuditEntriesAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_audit_entries_total",
			Help: "Audit log entries appended",
		}),
		ChainIntegrityViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_chain_integrity_violations_total",
			Help: "Custody transfers that broke chain continuity",
		}),
		CertificatesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_destruction_certificates_total",
			Help: "Destruction certificates issued",
		}),
		EscalationSweepRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_escalation_sweep_runs_total",
			Help: "Escalation sweep executions",
		}),
		StepsEscalated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_approval_steps_escalated_total",
			Help: "Approval steps reassigned to their escalation approver",
		}),
		StepsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_approval_steps_expired_total",
			Help: "Approval steps expired without action",
		}),
		NotificationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_notification_failures_total",
			Help: "Notifications dropped after exhausting retries",
		}),
	}
}
