package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authentication_attempts_total",
			Help: "Operator token checks, by method and result.",
		},
		[]string{"method", "result"},
	)

	WrappedKeysIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelkeys_wrapped_keys_issued_total",
			Help: "Wrapped key copies written, by scope kind.",
		},
		[]string{"kind"},
	)

	KeyRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "channelkeys_key_rotations_total",
			Help: "Channel key versions issued, including the first.",
		},
	)

	KeysRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "channelkeys_keys_revoked_total",
			Help: "Wrapped key rows deleted by revocation.",
		},
	)

	KeyRequestTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelkeys_key_request_transitions_total",
			Help: "Key request state changes, by resulting status.",
		},
		[]string{"status"},
	)

	InviteRedemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelkeys_invite_redemptions_total",
			Help: "Invite redemption attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	MessagesMigrated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "channelkeys_messages_migrated_total",
			Help: "Plaintext messages rewritten as ciphertext.",
		},
	)

	MigrationRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "channelkeys_migration_remaining",
			Help: "Plaintext public messages left after the last applied batch.",
		},
		[]string{"tenant"},
	)
)

// MustRegister registers every collector with the default registry. Call it
// once from main.
func MustRegister(serviceName string) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "service_info",
			Help:        "Constant 1, labelled with the service name.",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, func() float64 { return 1 }),
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		AuthenticationAttemptsTotal,
		WrappedKeysIssued,
		KeyRotations,
		KeysRevoked,
		KeyRequestTransitions,
		InviteRedemptions,
		MessagesMigrated,
		MigrationRemaining,
	)
}
