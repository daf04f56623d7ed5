package relay

import (
	"testing"
	"time"

	"mt5-signal-relay/internal/config"
	"mt5-signal-relay/internal/database"
	"mt5-signal-relay/internal/models"
	"mt5-signal-relay/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type reconcilerFixture struct {
	rec    *Reconciler
	store  store.Store
	db     *gorm.DB
	broker *fakeBroker
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	fb := newFakeBroker()
	st := store.NewGormStore(db, zap.NewNop())
	sessions := []*Session{{Account: config.Account{ID: 111}, Broker: fb}}

	return &reconcilerFixture{
		rec:    NewReconciler(zap.NewNop(), st, sessions, time.Second),
		store:  st,
		db:     db,
		broker: fb,
	}
}

func (fx *reconcilerFixture) seedGroup(t *testing.T, orderIDs ...int64) uint {
	t.Helper()

	msg := &models.Message{
		SourceMessageID: int64(1000 + len(orderIDs)),
		SourceChatID:    -100200,
		SourceChatName:  "Gold Signals",
		Body:            "XAUUSD BUY @ 2400 SL 2390 TP1-2410",
		Status:          models.MessageStatusNew,
		Timestamp:       time.Now(),
	}
	require.NoError(t, fx.store.InsertMessage(msg))

	trades := make([]models.Trade, 0, len(orderIDs))
	for _, id := range orderIDs {
		trades = append(trades, models.Trade{
			MessageID:  msg.ID,
			OrderID:    id,
			AccountID:  111,
			Symbol:     "XAUUSD+",
			Direction:  models.DirectionBuy,
			EntryPrice: 2400,
			StopLoss:   2390,
			TakeProfit: 2410,
			Status:     models.TradeStatusOpen,
		})
	}
	require.NoError(t, fx.store.InsertTrades(trades))
	return msg.ID
}

func (fx *reconcilerFixture) runOnce(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.rec.reconcileAccount(fx.rec.sessions[0]))
}

func auditRows(t *testing.T, db *gorm.DB) []models.TradeUpdate {
	t.Helper()
	var rows []models.TradeUpdate
	require.NoError(t, db.Order("id").Find(&rows).Error)
	return rows
}

func TestReconcilePartialClose(t *testing.T) {
	fx := newReconcilerFixture(t)

	msgID := fx.seedGroup(t, 11, 12, 13)
	fx.broker.live = map[int64]struct{}{12: {}}

	fx.runOnce(t)

	// Vanished legs are closed in place, the survivor moves to break even.
	groups, err := fx.store.OpenTradesByAccount(111)
	require.NoError(t, err)
	require.Len(t, groups[msgID], 1)
	survivor := groups[msgID][0]
	assert.Equal(t, int64(12), survivor.OrderID)
	assert.Equal(t, 2400.0, survivor.StopLoss)
	assert.Equal(t, 2400.0, survivor.BreakEven)

	require.Len(t, fx.broker.breakEvens, 1)
	assert.Equal(t, int64(12), fx.broker.breakEvens[0].orderID)
	assert.Nil(t, fx.broker.breakEvens[0].explicitSL)

	// Only the break-even produces an audit row; silent closes do not.
	rows := auditRows(t, fx.db)
	require.Len(t, rows, 1)
	assert.Equal(t, models.UpdateActionBreakEven, rows[0].Action)
	assert.Equal(t, int64(12), rows[0].OrderID)
	assert.Equal(t, breakEvenAuditBody, rows[0].Body)
	assert.Equal(t, 2400.0, rows[0].Value)
}

func TestReconcileIsIdempotent(t *testing.T) {
	fx := newReconcilerFixture(t)

	fx.seedGroup(t, 11, 12, 13)
	fx.broker.live = map[int64]struct{}{12: {}}

	fx.runOnce(t)
	fx.runOnce(t)

	// After healing, the remaining group matches the live positions exactly,
	// so the second pass touches nothing.
	require.Len(t, fx.broker.breakEvens, 1)

	groups, err := fx.store.OpenTradesByAccount(111)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	for _, trades := range groups {
		require.Len(t, trades, 1)
	}

	assert.Len(t, auditRows(t, fx.db), 1)
}

func TestReconcileFullClose(t *testing.T) {
	fx := newReconcilerFixture(t)

	fx.seedGroup(t, 11, 12)
	fx.broker.live = map[int64]struct{}{}

	fx.runOnce(t)

	groups, err := fx.store.OpenTradesByAccount(111)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Empty(t, fx.broker.breakEvens)
	assert.Empty(t, auditRows(t, fx.db))
}

func TestReconcileNoDivergence(t *testing.T) {
	fx := newReconcilerFixture(t)

	fx.seedGroup(t, 11, 12)
	fx.broker.live = map[int64]struct{}{11: {}, 12: {}}

	fx.runOnce(t)

	assert.Equal(t, 1, fx.broker.positionCalls)
	assert.Empty(t, fx.broker.breakEvens)
	assert.Empty(t, fx.broker.closed)

	groups, err := fx.store.OpenTradesByAccount(111)
	require.NoError(t, err)
	require.Len(t, groups, 1)
}

func TestReconcileEmptyStoreSkipsBroker(t *testing.T) {
	fx := newReconcilerFixture(t)

	fx.runOnce(t)

	// No open trades means the broker is never asked for positions.
	assert.Zero(t, fx.broker.positionCalls)
}

func TestReconcileTwoGroups(t *testing.T) {
	fx := newReconcilerFixture(t)

	healthyMsg := fx.seedGroup(t, 11, 12)
	brokenMsg := fx.seedGroup(t, 21, 22, 23)
	fx.broker.live = map[int64]struct{}{11: {}, 12: {}, 23: {}}

	fx.runOnce(t)

	groups, err := fx.store.OpenTradesByAccount(111)
	require.NoError(t, err)
	assert.Len(t, groups[healthyMsg], 2)
	require.Len(t, groups[brokenMsg], 1)
	assert.Equal(t, int64(23), groups[brokenMsg][0].OrderID)

	// Only the diverged group's survivor was touched.
	require.Len(t, fx.broker.breakEvens, 1)
	assert.Equal(t, int64(23), fx.broker.breakEvens[0].orderID)
}
