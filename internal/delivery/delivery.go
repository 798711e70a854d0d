// Package delivery drives messages through pending, sent, delivered and read.
// Transitions only move forward; a request for a state the message has
// already reached or passed is treated as satisfied.
package delivery

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ageniuscoder/internchat/backend/internal/apperr"
	"github.com/ageniuscoder/internchat/backend/internal/model"
)

// StatusStore is the compare-and-advance write the tracker relies on.
type StatusStore interface {
	UpdateStatus(ctx context.Context, id int64, status model.Status) (model.Message, error)
}

type Tracker struct {
	store   StatusStore
	log     *logrus.Entry
	metrics *Metrics
}

func NewTracker(store StatusStore, log *logrus.Entry, metrics *Metrics) *Tracker {
	return &Tracker{store: store, log: log, metrics: metrics}
}

// OnAppend is the status a message has once the store accepted it.
func OnAppend() model.Status { return model.StatusSent }

// ForObserver decides what a viewer's observation of m should move it to.
// Only the receiver moves a message; it becomes read when its sender is the
// peer the viewer is looking at and delivered otherwise. ok is false when
// there is nothing to do.
func ForObserver(viewer, activePeer string, m model.Message) (target model.Status, ok bool) {
	if m.ReceiverID != viewer || m.Provisional() || m.Status.Terminal() {
		return 0, false
	}
	target = model.StatusDelivered
	if activePeer != "" && m.SenderID == activePeer {
		target = model.StatusRead
	}
	if !m.Status.Before(target) {
		return 0, false
	}
	return target, true
}

// Advance moves message id to target. A regression or repeat is not an error:
// the stored record is returned as is. Storage failures are returned so the
// caller's sweep can retry later.
func (t *Tracker) Advance(ctx context.Context, id int64, target model.Status) (model.Message, error) {
	m, err := t.store.UpdateStatus(ctx, id, target)
	switch {
	case err == nil:
		t.metrics.observe(target, resultAdvanced)
		return m, nil
	case errors.Is(err, apperr.ErrInvalidTransition):
		t.metrics.observe(target, resultSatisfied)
		t.log.WithFields(logrus.Fields{"message_id": id, "target": target, "current": m.Status}).
			Debug("transition already satisfied")
		return m, nil
	default:
		t.metrics.observe(target, resultFailed)
		t.log.WithError(err).WithFields(logrus.Fields{"message_id": id, "target": target}).
			Warn("status transition failed")
		return m, err
	}
}

// AdvanceAll advances every message in ids to target and returns the records
// that were written. It keeps going after a failure and reports the first one.
func (t *Tracker) AdvanceAll(ctx context.Context, ids []int64, target model.Status) ([]model.Message, error) {
	var (
		out      []model.Message
		firstErr error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		m, err := t.Advance(ctx, id, target)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, m)
	}
	return out, firstErr
}

const (
	resultAdvanced  = "advanced"
	resultSatisfied = "satisfied"
	resultFailed    = "failed"
)

type Metrics struct {
	transitions *prometheus.CounterVec
}

// NewMetrics registers the transition counter on reg when reg is not nil. A
// nil *Metrics is valid and records nothing.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "internchat",
			Subsystem: "delivery",
			Name:      "transitions_total",
			Help:      "Status transitions requested, by target status and result.",
		}, []string{"target", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions)
	}
	return m
}

func (m *Metrics) observe(target model.Status, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(target.String(), result).Inc()
}
