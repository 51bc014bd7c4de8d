package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agora_connected",
		Help: "1 while the session holds a live connection",
	})

	envelopesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_envelopes_sent_total",
			Help: "Total envelopes written by kind",
		},
		[]string{"kind"}, // greeting|heartbeat|request|ack
	)

	envelopesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_envelopes_received_total",
			Help: "Total envelopes read by kind",
		},
		[]string{"kind"},
	)

	decodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agora_decode_errors_total",
		Help: "Total inbound frames that failed to decode",
	})

	resubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_resubmissions_total",
			Help: "Total envelopes resubmitted after ack timeout",
		},
		[]string{"kind"}, // request|greeting
	)

	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "agora_reconnects_total",
		Help: "Total reconnects performed",
	})

	pendingAcks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agora_pending_acks",
		Help: "Envelopes awaiting acknowledgment",
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agora_outbound_queue_depth",
		Help: "Envelopes waiting in the outbound queue",
	})

	encodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_encode_errors_total",
			Help: "Outbound envelopes discarded because they could not be encoded or framed",
		},
		[]string{"kind"},
	)

	dispatchBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "agora_dispatch_backlog",
		Help: "Inbound requests waiting for a dispatch worker",
	})

	ackLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agora_ack_latency_seconds",
			Help:    "Time from envelope creation to acknowledgment",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"kind"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_dispatch_total",
			Help: "Total inbound requests handled by keyword",
		},
		[]string{"keyword"},
	)

	dispatchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agora_dispatch_errors_total",
			Help: "Total dispatch failures by reason",
		},
		[]string{"reason"}, // no_handler|decode|handler|panic
	)
)

func init() {
	prometheus.MustRegister(
		connected,
		envelopesSent,
		envelopesReceived,
		decodeErrors,
		resubmissions,
		reconnects,
		pendingAcks,
		queueDepth,
		encodeErrors,
		dispatchBacklog,
		ackLatency,
		dispatchTotal,
		dispatchErrors,
	)
}

func SetConnected(up bool) {
	if up {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

func IncSent(kind string)            { envelopesSent.WithLabelValues(kind).Inc() }
func IncReceived(kind string)        { envelopesReceived.WithLabelValues(kind).Inc() }
func IncDecodeError()                { decodeErrors.Inc() }
func IncResubmit(kind string)        { resubmissions.WithLabelValues(kind).Inc() }
func IncReconnect()                  { reconnects.Inc() }
func SetPending(n int)               { pendingAcks.Set(float64(n)) }
func SetQueueDepth(n int)            { queueDepth.Set(float64(n)) }
func IncEncodeError(kind string)     { encodeErrors.WithLabelValues(kind).Inc() }
func SetDispatchBacklog(n int)       { dispatchBacklog.Set(float64(n)) }
func IncDispatch(keyword string)     { dispatchTotal.WithLabelValues(keyword).Inc() }
func IncDispatchError(reason string) { dispatchErrors.WithLabelValues(reason).Inc() }

func ObserveAck(kind string, seconds float64) {
	ackLatency.WithLabelValues(kind).Observe(seconds)
}
