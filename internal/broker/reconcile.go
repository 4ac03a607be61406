package broker

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/tradeforge-dev/ibacktest/internal/logger"
	"github.com/tradeforge-dev/ibacktest/internal/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ReconciliationStatus classifies a per-order comparison of simulated and
// live execution.
type ReconciliationStatus string

const (
	// StatusPending means the live fill has not arrived yet and the ack
	// timeout has not elapsed.
	StatusPending ReconciliationStatus = "pending"
	// StatusReconciled means both fills are present and comparable.
	StatusReconciled ReconciliationStatus = "reconciled"
	// StatusUnresolved means the ack timeout elapsed without a live fill.
	// Non-fatal: the order stays in the report with no divergence figure.
	StatusUnresolved ReconciliationStatus = "unresolved"
)

// Entry is one per-order record of the reconciliation report. Simulated
// prices are quantity-weighted averages when the order filled in parts.
type Entry struct {
	OrderID            string               `yaml:"order_id"`
	Symbol             string               `yaml:"symbol"`
	Status             ReconciliationStatus `yaml:"status"`
	SimulatedFillPrice float64              `yaml:"simulated_fill_price"`
	SimulatedFillTime  time.Time            `yaml:"simulated_fill_time"`
	// Live fields are nil until the broker's fill arrives.
	LiveFillPrice *float64   `yaml:"live_fill_price"`
	LiveFillTime  *time.Time `yaml:"live_fill_time"`
	// DivergenceBp is the live-vs-simulated price delta in basis points of
	// the simulated price. Zero until reconciled.
	DivergenceBp float64 `yaml:"divergence_bp"`
	// TimingDelta is live fill time minus simulated fill time.
	TimingDelta time.Duration `yaml:"timing_delta"`
}

type orderRecord struct {
	symbol      string
	submittedAt time.Time

	simQuantity float64
	simNotional float64
	simTime     time.Time
	simFilled   bool

	liveQuantity float64
	liveNotional float64
	liveTime     time.Time
	liveFilled   bool
}

// Reconciler compares simulated fills against live broker fills for the same
// orders. It never feeds live results back into the ledger; the two execution
// records stay parallel. Single-threaded: the engine calls it only between
// ticks.
type Reconciler struct {
	logger     *logger.Logger
	ackTimeout time.Duration
	records    map[string]*orderRecord
	orderIDs   []string
}

// NewReconciler creates a reconciler with the given live-fill ack timeout.
func NewReconciler(ackTimeout time.Duration, log *logger.Logger) *Reconciler {
	return &Reconciler{
		logger:     log,
		ackTimeout: ackTimeout,
		records:    make(map[string]*orderRecord),
	}
}

func (r *Reconciler) record(orderID string) *orderRecord {
	if record, ok := r.records[orderID]; ok {
		return record
	}

	record := &orderRecord{}
	r.records[orderID] = record
	r.orderIDs = append(r.orderIDs, orderID)

	return record
}

// TrackOrder registers an order that was mirrored to the broker. The ack
// timeout for its live fill starts at the submission time.
func (r *Reconciler) TrackOrder(order types.Order) {
	record := r.record(order.ID)
	record.symbol = order.Symbol
	record.submittedAt = order.SubmittedAt
}

// RecordSimulated folds a simulated fill into its order's record.
func (r *Reconciler) RecordSimulated(fill types.Fill) {
	record := r.record(fill.OrderID)
	record.symbol = fill.Symbol
	record.simQuantity += fill.Quantity
	record.simNotional += fill.Quantity * fill.Price
	record.simTime = fill.Time
	record.simFilled = true
}

// ObserveLive folds a live broker fill into its order's record. Fills for
// orders the reconciler never tracked are logged and dropped.
func (r *Reconciler) ObserveLive(fill types.Fill) {
	record, ok := r.records[fill.OrderID]
	if !ok {
		r.logger.Warn("Live fill for unknown order",
			zap.String("order_id", fill.OrderID),
			zap.String("symbol", fill.Symbol),
		)

		return
	}

	record.liveQuantity += fill.Quantity
	record.liveNotional += fill.Quantity * fill.Price
	record.liveTime = fill.Time
	record.liveFilled = true
}

// Report materializes the per-order reconciliation entries as of now, in
// order-submission order. Orders whose live fill is still outstanding past
// the ack timeout are marked unresolved.
func (r *Reconciler) Report(now time.Time) []Entry {
	entries := make([]Entry, 0, len(r.orderIDs))

	for _, orderID := range r.orderIDs {
		record := r.records[orderID]
		if !record.simFilled {
			// Never filled in simulation; nothing to compare.
			continue
		}

		entry := Entry{
			OrderID:            orderID,
			Symbol:             record.symbol,
			SimulatedFillPrice: record.simNotional / record.simQuantity,
			SimulatedFillTime:  record.simTime,
		}

		switch {
		case record.liveFilled:
			livePrice := record.liveNotional / record.liveQuantity
			liveTime := record.liveTime
			entry.Status = StatusReconciled
			entry.LiveFillPrice = &livePrice
			entry.LiveFillTime = &liveTime
			entry.TimingDelta = liveTime.Sub(record.simTime)

			if entry.SimulatedFillPrice != 0 {
				entry.DivergenceBp = (livePrice - entry.SimulatedFillPrice) / entry.SimulatedFillPrice * 10000
			}
		case r.ackTimeout > 0 && now.Sub(record.submittedAt) > r.ackTimeout:
			entry.Status = StatusUnresolved
		default:
			entry.Status = StatusPending
		}

		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].SimulatedFillTime.Before(entries[j].SimulatedFillTime)
	})

	return entries
}

// MaxAbsDivergenceBp returns the largest absolute divergence across
// reconciled entries.
func MaxAbsDivergenceBp(entries []Entry) float64 {
	max := 0.0

	for _, entry := range entries {
		if entry.Status != StatusReconciled {
			continue
		}

		if abs := math.Abs(entry.DivergenceBp); abs > max {
			max = abs
		}
	}

	return max
}

// WriteReport writes the reconciliation entries to the given path as YAML.
func WriteReport(path string, entries []Entry) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal reconciliation report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write reconciliation report: %w", err)
	}

	return nil
}
