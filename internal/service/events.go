package service

import (
	"context"
	"time"

	"github.com/celo-runner/internal/chain"
	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/game"
	"github.com/celo-runner/internal/store"
)

const (
	auditTimeout = 5 * time.Second
	auditBuffer  = 64
)

// wire subscribes the hub and the audit log to state and lifecycle
// changes
func (g *Game) wire() {
	if g.hub != nil {
		g.hub.SetStateSource(func() interface{} { return g.store.Snapshot() })
		g.unsubscribe = append(g.unsubscribe, g.store.Subscribe(g.onState))
	}
	if g.audit != nil {
		g.txBatches = make(chan []domain.TxEvent, auditBuffer)
		g.auditDone = make(chan struct{})
		go g.recordTxEvents(g.txBatches)
	}
	if g.hub != nil || g.audit != nil {
		g.unsubscribe = append(g.unsubscribe, g.writer.Transactor().Observe(g.onTx))
	}
}

// onState pushes every state and each newly visible notification
func (g *Game) onState(st store.State) {
	g.hub.BroadcastState(st)

	if st.Notification == nil {
		return
	}
	g.mu.Lock()
	fresh := st.Notification.ID != g.lastNoteID
	g.lastNoteID = st.Notification.ID
	g.mu.Unlock()
	if fresh {
		g.hub.BroadcastNotification(*st.Notification)
	}
}

// onTx pushes a lifecycle transition and records the operation once it
// settles
func (g *Game) onTx(status chain.TxStatus) {
	if g.hub != nil {
		g.hub.BroadcastTx(status)
	}
	if g.audit == nil || status.State == chain.TxIdle {
		return
	}

	g.mu.Lock()
	g.txEvents = append(g.txEvents, domain.TxEvent{
		Operation: status.Operation,
		State:     string(status.State),
		TxHash:    status.Hash,
		Error:     status.Error,
		Timestamp: status.UpdatedAt,
	})
	if status.State != chain.TxSuccess && status.State != chain.TxError {
		g.mu.Unlock()
		return
	}
	events := g.txEvents
	g.txEvents = nil
	if g.txBatches != nil {
		select {
		case g.txBatches <- events:
		default:
			g.logger.Warn("audit buffer full, dropping transaction events", "operation", status.Operation)
		}
	}
	g.mu.Unlock()
}

// recordTxEvents writes settled batches off the transaction path
func (g *Game) recordTxEvents(batches <-chan []domain.TxEvent) {
	defer close(g.auditDone)
	for events := range batches {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		if err := g.audit.RecordTxEvents(ctx, events); err != nil {
			g.logger.Warn("failed to record transaction events", "operation", events[0].Operation, "error", err)
		}
		cancel()
	}
}

// HandleRunEvent saves a run published for the connected wallet. Events
// are processed at most once.
func (g *Game) HandleRunEvent(ctx context.Context, event domain.RunEvent) error {
	st := g.store.Snapshot()
	if !st.Connected || !chain.EqualAddress(event.Player, st.Address) {
		g.logger.Info("ignoring run event for another wallet", "event_id", event.EventID, "player", event.Player)
		return nil
	}

	if g.audit != nil {
		fresh, err := g.audit.MarkRunEvent(ctx, event.EventID)
		if err != nil {
			return err
		}
		if !fresh {
			g.logger.Info("skipping duplicate run event", "event_id", event.EventID)
			return nil
		}
	}

	res := game.Result{Stage: event.Stage, Score: event.Score, Coins: event.CoinsCollected}
	_, err := g.SaveRun(ctx, res, event.QuestionsCorrect)
	return err
}

// RefreshLeaderboards re-reads every leaderboard and pushes the rankings
func (g *Game) RefreshLeaderboards(ctx context.Context) error {
	for stage, entries := range g.boards.All(ctx, 0) {
		if g.hub != nil {
			g.hub.BroadcastLeaderboard(stage, entries)
		}
	}
	return nil
}

// RefreshStats re-reads the global counters
func (g *Game) RefreshStats(ctx context.Context) error {
	_, err := g.Stats(ctx)
	return err
}
