package relay

import (
	"sync"

	"mt5-signal-relay/internal/broker"
	"mt5-signal-relay/internal/config"
	"mt5-signal-relay/internal/models"
	"mt5-signal-relay/internal/signal"
	"mt5-signal-relay/internal/store"
	"mt5-signal-relay/internal/telegram"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Session binds one configured broker account to its long-lived execution
// client. Sessions are constructed once at startup and reused across
// messages.
type Session struct {
	Account config.Account
	Broker  broker.ClientInterface
}

// NewSessions builds one session per configured account.
func NewSessions(cfg *config.Config, logger *zap.Logger) []*Session {
	sessions := make([]*Session, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		sessions = append(sessions, &Session{
			Account: acct,
			Broker:  broker.NewClient(acct, logger.Named("broker")),
		})
	}
	return sessions
}

// hasLotTiers reports whether any symbol of the account uses balance-tiered
// lot sizing, in which case opening trades needs the live balance.
func (s *Session) hasLotTiers() bool {
	for _, symCfg := range s.Account.TradeManagement {
		if len(symCfg.LotTiers) > 0 {
			return true
		}
	}
	return false
}

// Orchestrator consumes classified chat events and drives order placement,
// modification and closure across all configured accounts, writing through
// to the trade store. One event is handled at a time.
type Orchestrator struct {
	logger   *zap.Logger
	cfg      *config.Config
	store    store.Store
	fwd      telegram.Forwarder
	sessions []*Session
}

// NewOrchestrator creates a new signal orchestrator.
func NewOrchestrator(logger *zap.Logger, cfg *config.Config, st store.Store, fwd telegram.Forwarder, sessions []*Session) *Orchestrator {
	return &Orchestrator{
		logger:   logger.Named("orchestrator"),
		cfg:      cfg,
		store:    st,
		fwd:      fwd,
		sessions: sessions,
	}
}

// destChatFor resolves the destination channel for a source channel name.
func (o *Orchestrator) destChatFor(chatName string) int64 {
	if dest, ok := o.cfg.Telegram.Routes[chatName]; ok {
		return dest
	}
	return o.cfg.Telegram.DefaultDestChat
}

// HandleEvent is the per-message entry point. A single message's failure is
// logged and never crashes the intake loop.
func (o *Orchestrator) HandleEvent(ev telegram.Event) {
	if !signal.Prefilter(ev.Text) {
		o.logger.Debug("Message dropped by prefilter", zap.String("text", ev.Text))
		return
	}

	// The raw signal is forwarded before any processing so a human operator
	// sees it regardless of the automated outcome.
	destChat := o.destChatFor(ev.ChatName)
	fwdID, err := o.fwd.ForwardMessage(destChat, ev.ChatID, ev.MessageID)
	if err != nil {
		o.logger.Error("Failed to forward message",
			zap.Int64("source_message_id", ev.MessageID),
			zap.Error(err),
		)
	}

	if ev.Edited {
		o.handleEdited(ev)
		return
	}
	o.handleNew(ev, destChat, fwdID)
}

func (o *Orchestrator) handleNew(ev telegram.Event, destChat, fwdID int64) {
	intent := signal.Classify(ev.Text)

	switch intent.Kind {
	case signal.IntentCreate:
		o.logger.Info("New signal to open a position",
			zap.String("symbol", intent.Symbol),
			zap.String("direction", intent.Direction),
			zap.Float64("entry_price", intent.EntryPrice),
		)
		o.openFromSignal(ev, intent, destChat, fwdID)

	case signal.IntentUpdateBreakEven:
		o.logger.Info("New signal to move positions to break even", zap.String("text", ev.Text))
		trades, err := o.resolveTargets(ev)
		if err != nil {
			o.logger.Error("Could not resolve trades for break-even signal", zap.Error(err))
			return
		}
		o.applyBreakEven(trades, intent, ev.Text)

	case signal.IntentClose:
		o.logger.Info("New signal to close positions", zap.String("text", ev.Text))
		trades, err := o.resolveTargets(ev)
		if err != nil {
			o.logger.Error("Could not resolve trades for close signal", zap.Error(err))
			return
		}
		o.applyClose(trades, ev.Text)

	default:
		o.logger.Info("Message passed prefilter but is not a signal", zap.String("text", ev.Text))
	}
}

// resolveTargets finds the trades an update/close signal applies to: the
// trades of the replied-to message when the event is a reply, else the open
// trades of the channel's most recent signal.
func (o *Orchestrator) resolveTargets(ev telegram.Event) ([]models.Trade, error) {
	if ev.ReplyToID != 0 {
		replied, err := o.store.MessageBySource(ev.ReplyToID, ev.ChatID)
		if err != nil {
			return nil, err
		}
		return o.store.TradesByMessageID(replied.ID)
	}
	return o.store.LatestOpenTradesBySourceChat(ev.ChatName)
}

// openFromSignal persists the message, expands the intent per account and
// places the resulting order legs. Account failures are isolated: one
// account failing never blocks the others.
func (o *Orchestrator) openFromSignal(ev telegram.Event, intent signal.Intent, destChat, fwdID int64) {
	msg := &models.Message{
		SourceMessageID: ev.MessageID,
		SourceChatID:    ev.ChatID,
		SourceChatName:  ev.ChatName,
		DestChatID:      destChat,
		DestMessageID:   fwdID,
		Body:            ev.Text,
		Status:          models.MessageStatusNew,
		Timestamp:       ev.Timestamp,
	}
	if err := o.store.InsertMessage(msg); err != nil {
		o.logger.Error("Failed to persist message, signal not executed", zap.Error(err))
		return
	}

	var mu sync.Mutex
	var opened []models.Trade

	var g errgroup.Group
	for _, sess := range o.sessions {
		sess := sess
		g.Go(func() error {
			trades := o.openForAccount(sess, intent, msg.ID)
			mu.Lock()
			opened = append(opened, trades...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := o.store.InsertTrades(opened); err != nil {
		o.logger.Error("Failed to persist opened trades", zap.Error(err))
	}
}

// openForAccount expands and submits the order legs for one account. The
// number of submitted legs is never below the symbol's configured trade
// count: a short window is filled by resubmitting the first leg.
func (o *Orchestrator) openForAccount(sess *Session, intent signal.Intent, messageID uint) []models.Trade {
	l := o.logger.With(zap.Int64("account_id", sess.Account.ID))

	var balance float64
	if sess.hasLotTiers() {
		b, err := sess.Broker.AccountBalance()
		if err != nil {
			l.Warn("Could not fetch balance for tiered lot sizing, using base lot", zap.Error(err))
		} else {
			balance = b
		}
	}

	orders, symCfg, err := signal.Expand(intent, messageID, sess.Account, balance)
	if err != nil {
		// Misconfiguration, not bad input: nothing is executed for this
		// account and the message stays unprocessed for it.
		l.Error("Trade management lookup failed", zap.Error(err))
		return nil
	}

	count := len(orders)
	if symCfg.TradeCount > count {
		count = symCfg.TradeCount
	}

	var trades []models.Trade
	for i := 0; i < count; i++ {
		ord := orders[0]
		if i < len(orders) {
			ord = orders[i]
		}

		orderID, err := sess.Broker.OpenOrder(broker.OrderRequest{
			Symbol:     ord.Symbol,
			Direction:  ord.Direction,
			Volume:     ord.Volume,
			EntryPrice: ord.EntryPrice,
			StopLoss:   ord.StopLoss,
			TakeProfit: ord.TakeProfit,
		})
		if err != nil {
			// A rejected leg is simply omitted; siblings already placed stay.
			l.Error("Order leg did not execute", zap.Int("leg", i), zap.Error(err))
			continue
		}

		trades = append(trades, models.Trade{
			MessageID:  messageID,
			OrderID:    orderID,
			AccountID:  sess.Account.ID,
			Symbol:     ord.Symbol,
			Direction:  ord.Direction,
			Volume:     ord.Volume,
			EntryPrice: ord.EntryPrice,
			StopLoss:   ord.StopLoss,
			TakeProfit: ord.TakeProfit,
			Status:     models.TradeStatusOpen,
		})
	}
	return trades
}

// applyBreakEven moves every resolved trade's stop loss to break even on its
// owning account. A nil explicit stop loss delegates "use entry price" to
// the broker.
func (o *Orchestrator) applyBreakEven(trades []models.Trade, intent signal.Intent, text string) {
	var mu sync.Mutex
	var auditRows []models.TradeUpdate

	var g errgroup.Group
	for _, sess := range o.sessions {
		sess := sess
		g.Go(func() error {
			l := o.logger.With(zap.Int64("account_id", sess.Account.ID))
			for i := range trades {
				t := trades[i]
				if t.AccountID != sess.Account.ID {
					continue
				}

				newSL, err := sess.Broker.UpdateBreakEven(t.OrderID, intent.StopLoss)
				if err != nil {
					l.Error("Break-even update did not execute",
						zap.Int64("order_id", t.OrderID), zap.Error(err))
					continue
				}

				t.StopLoss = newSL
				t.BreakEven = newSL
				if err := o.store.UpdateTrade(&t); err != nil {
					l.Error("Failed to persist break-even update", zap.Error(err))
				}

				mu.Lock()
				auditRows = append(auditRows, models.TradeUpdate{
					TradeID:   t.ID,
					OrderID:   t.OrderID,
					AccountID: t.AccountID,
					Action:    models.UpdateActionBreakEven,
					Body:      text,
					Value:     newSL,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := o.store.InsertTradeUpdates(auditRows); err != nil {
		o.logger.Error("Failed to persist break-even audit rows", zap.Error(err))
	}
}

// applyClose closes every resolved trade on its owning account.
func (o *Orchestrator) applyClose(trades []models.Trade, text string) {
	var mu sync.Mutex
	var auditRows []models.TradeUpdate

	var g errgroup.Group
	for _, sess := range o.sessions {
		sess := sess
		g.Go(func() error {
			l := o.logger.With(zap.Int64("account_id", sess.Account.ID))
			for i := range trades {
				t := trades[i]
				if t.AccountID != sess.Account.ID {
					continue
				}

				if err := sess.Broker.CloseOrder(t.OrderID); err != nil {
					l.Error("Close did not execute",
						zap.Int64("order_id", t.OrderID), zap.Error(err))
					continue
				}

				t.Status = models.TradeStatusClosed
				if err := o.store.UpdateTrade(&t); err != nil {
					l.Error("Failed to persist trade close", zap.Error(err))
				}

				mu.Lock()
				auditRows = append(auditRows, models.TradeUpdate{
					TradeID:   t.ID,
					OrderID:   t.OrderID,
					AccountID: t.AccountID,
					Action:    models.UpdateActionClose,
					Body:      text,
					Value:     models.ClosedBySignal,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := o.store.InsertTradeUpdates(auditRows); err != nil {
		o.logger.Error("Failed to persist close audit rows", zap.Error(err))
	}
}

// handleEdited re-expands an edited create signal and rewrites the existing
// legs. New SL/TP pairs are zipped against the existing legs by position;
// when the edit yields fewer legs than exist, every existing leg collapses
// to the first new pair.
func (o *Orchestrator) handleEdited(ev telegram.Event) {
	existing, err := o.store.MessageBySource(ev.MessageID, ev.ChatID)
	if err != nil {
		o.logger.Error("Edited message has no stored original", zap.Error(err))
		return
	}

	intent := signal.Classify(ev.Text)
	if intent.Kind != signal.IntentCreate {
		return
	}

	existingTrades, err := o.store.TradesByMessageID(existing.ID)
	if err != nil {
		o.logger.Error("Could not load trades for edited message", zap.Error(err))
		return
	}

	var mu sync.Mutex
	var auditRows []models.TradeUpdate

	var g errgroup.Group
	for _, sess := range o.sessions {
		sess := sess
		g.Go(func() error {
			rows := o.updateForAccount(sess, intent, existing.ID, existingTrades, ev.Text)
			mu.Lock()
			auditRows = append(auditRows, rows...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := o.store.InsertTradeUpdates(auditRows); err != nil {
		o.logger.Error("Failed to persist edit audit rows", zap.Error(err))
	}

	existing.Body = ev.Text
	existing.Status = models.MessageStatusUpdated
	if err := o.store.UpdateMessage(existing); err != nil {
		o.logger.Error("Failed to persist edited message", zap.Error(err))
	}
}

func (o *Orchestrator) updateForAccount(sess *Session, intent signal.Intent, messageID uint, existingTrades []models.Trade, text string) []models.TradeUpdate {
	l := o.logger.With(zap.Int64("account_id", sess.Account.ID))

	orders, _, err := signal.Expand(intent, messageID, sess.Account, 0)
	if err != nil {
		l.Error("Trade management lookup failed for edit", zap.Error(err))
		return nil
	}

	var subset []models.Trade
	for _, t := range existingTrades {
		if t.AccountID == sess.Account.ID {
			subset = append(subset, t)
		}
	}

	var auditRows []models.TradeUpdate
	for i := range subset {
		t := subset[i]

		ord := orders[0]
		if i < len(orders) && len(orders) >= len(subset) {
			ord = orders[i]
		}

		var newSL, newTP *float64
		if ord.StopLoss != 0 {
			newSL = &ord.StopLoss
		}
		if ord.TakeProfit != 0 {
			newTP = &ord.TakeProfit
		}

		if err := sess.Broker.UpdateOrder(t.OrderID, newSL, newTP); err != nil {
			l.Error("Order update did not execute",
				zap.Int64("order_id", t.OrderID), zap.Error(err))
			continue
		}

		t.StopLoss = ord.StopLoss
		t.TakeProfit = ord.TakeProfit
		if err := o.store.UpdateTrade(&t); err != nil {
			l.Error("Failed to persist trade update", zap.Error(err))
		}

		auditRows = append(auditRows, models.TradeUpdate{
			TradeID:   t.ID,
			OrderID:   t.OrderID,
			AccountID: t.AccountID,
			Action:    models.UpdateActionUpdate,
			Body:      text,
			Value:     ord.TakeProfit,
		})
	}
	return auditRows
}
