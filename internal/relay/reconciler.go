package relay

import (
	"context"
	"time"

	"mt5-signal-relay/internal/models"
	"mt5-signal-relay/internal/store"

	"go.uber.org/zap"
)

// breakEvenAuditBody is the fixed body recorded when the reconciler moves a
// surviving sibling to break even after detecting a partial close.
const breakEvenAuditBody = "auto break-even after partial close"

// Reconciler periodically diffs the store's open trades against the brokers'
// live positions and self-heals divergences: records for positions no longer
// live are closed, and when only part of a signal's legs disappeared the
// survivors are moved to break even.
//
// The loop is safe to run alongside the orchestrator: both only ever move a
// trade from open to closed, so a lost race degrades to a no-op update.
type Reconciler struct {
	logger   *zap.Logger
	store    store.Store
	sessions []*Session
	interval time.Duration
}

// NewReconciler creates a reconciliation loop over the given sessions.
func NewReconciler(logger *zap.Logger, st store.Store, sessions []*Session, interval time.Duration) *Reconciler {
	return &Reconciler{
		logger:   logger.Named("reconciler"),
		store:    st,
		sessions: sessions,
		interval: interval,
	}
}

// Run starts the polling loop and blocks until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Starting reconciliation loop", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping reconciliation loop")
			return
		case <-ticker.C:
			for _, sess := range r.sessions {
				if err := r.reconcileAccount(sess); err != nil {
					r.logger.Error("Reconciliation pass failed",
						zap.Int64("account_id", sess.Account.ID),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// reconcileAccount runs one pass for a single account. A group's failure is
// logged and does not abort the scan of the remaining groups.
func (r *Reconciler) reconcileAccount(sess *Session) error {
	groups, err := r.store.OpenTradesByAccount(sess.Account.ID)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	live, err := sess.Broker.OpenPositionIDs()
	if err != nil {
		return err
	}

	for messageID, trades := range groups {
		if allPresent(trades, live) {
			continue
		}
		r.logger.Info("Signal group diverged from live positions",
			zap.Int64("account_id", sess.Account.ID),
			zap.Uint("message_id", messageID),
		)
		r.healGroup(sess, trades, live)
	}
	return nil
}

func allPresent(trades []models.Trade, live map[int64]struct{}) bool {
	for _, t := range trades {
		if _, ok := live[t.OrderID]; !ok {
			return false
		}
	}
	return true
}

// healGroup closes the records of vanished legs and moves the surviving
// siblings to break even. A survivor only exists when part of the group was
// closed out-of-band, which is read as "take profit hit on some legs".
func (r *Reconciler) healGroup(sess *Session, trades []models.Trade, live map[int64]struct{}) {
	l := r.logger.With(zap.Int64("account_id", sess.Account.ID))

	var auditRows []models.TradeUpdate
	for i := range trades {
		t := trades[i]

		if _, ok := live[t.OrderID]; !ok {
			t.Status = models.TradeStatusClosed
			if err := r.store.UpdateTrade(&t); err != nil {
				l.Error("Failed to close stale trade record",
					zap.Int64("order_id", t.OrderID), zap.Error(err))
			}
			continue
		}

		newSL, err := sess.Broker.UpdateBreakEven(t.OrderID, nil)
		if err != nil {
			l.Error("Break-even update did not execute",
				zap.Int64("order_id", t.OrderID), zap.Error(err))
			continue
		}

		t.StopLoss = newSL
		t.BreakEven = newSL
		if err := r.store.UpdateTrade(&t); err != nil {
			l.Error("Failed to persist break-even update",
				zap.Int64("order_id", t.OrderID), zap.Error(err))
		}

		auditRows = append(auditRows, models.TradeUpdate{
			TradeID:   t.ID,
			OrderID:   t.OrderID,
			AccountID: t.AccountID,
			Action:    models.UpdateActionBreakEven,
			Body:      breakEvenAuditBody,
			Value:     newSL,
		})
	}

	if err := r.store.InsertTradeUpdates(auditRows); err != nil {
		l.Error("Failed to persist reconciliation audit rows", zap.Error(err))
	}
}
