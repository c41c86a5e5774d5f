package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booth_pos_kiosk_submissions_total",
			Help: "Order submissions by outcome (online, queued, rejected, invalid)",
		},
		[]string{"outcome"},
	)

	syncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booth_pos_kiosk_sync_records_total",
			Help: "Pending orders replayed by outcome (synced, failed)",
		},
		[]string{"outcome"},
	)
)
