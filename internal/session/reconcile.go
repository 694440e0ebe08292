package session

import (
	"context"

	"github.com/pma-pay/pma_pay/internal/notification"
	"github.com/pma-pay/pma_pay/internal/wallet"
)

// watchConfirmation tracks a broadcast transfer in the background,
// detached from the originating call. Each watcher owns exactly one
// transaction; a failure there never touches the others.
func (s *Session) watchConfirmation(txID string) {
	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		confirmed := s.gateway.AwaitConfirmation(context.Background(), txID, s.ConfirmTimeout)
		s.resolve(txID, confirmed)
	}()
}

// watchSettlement does the same for simulated bank transfers.
func (s *Session) watchSettlement(reference string) {
	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		settled := s.bank.AwaitSettlement(context.Background(), reference, s.ConfirmTimeout)
		s.resolve(reference, settled)
	}()
}

// resolve moves a pending transaction to its terminal state, exactly
// once, and persists the change. The optimistic balance deduction is
// deliberately left in place on failure: the unresolved state stays
// visible until the next successful refresh reconciles true balances.
func (s *Session) resolve(txID string, succeeded bool) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	w := s.current()
	if w == nil {
		s.logger.Debug("confirmation arrived after wallet clear", "tx_id", txID)
		return
	}

	updated := w.Clone()
	idx := -1
	for i, tx := range updated.Transactions {
		if tx.ID == txID && tx.Status == wallet.StatusPending {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Already terminal or unknown; status transitions happen once.
		return
	}

	if succeeded {
		updated.Transactions[idx].Status = wallet.StatusConfirmed
	} else {
		updated.Transactions[idx].Status = wallet.StatusFailed
	}

	if err := s.commit(context.Background(), &updated); err != nil {
		s.logger.Error("persist reconciled transaction", "tx_id", txID, "error", err)
		return
	}

	tx := updated.Transactions[idx]
	s.logger.Info("transaction reconciled", "tx_id", txID, "status", string(tx.Status))
	if s.notifier != nil {
		if err := s.notifier.Send(context.Background(), notification.ForTransaction(tx)); err != nil {
			s.logger.Warn("notification delivery failed", "tx_id", txID, "error", err)
		}
	}
}
