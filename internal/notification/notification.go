package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pma-pay/pma_pay/internal/wallet"
)

const (
	// KindTransactionConfirmed signals a transfer reached the chain.
	KindTransactionConfirmed = "transaction_confirmed"
	// KindTransactionFailed signals a transfer failed or timed out.
	KindTransactionFailed = "transaction_failed"
	// KindBankTransferSettled signals a simulated bank transfer settled.
	KindBankTransferSettled = "bank_transfer_settled"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// ForTransaction builds the user-facing message for a resolved transaction.
func ForTransaction(tx wallet.Transaction) Message {
	kind := KindTransactionConfirmed
	verb := "confirmed"
	switch {
	case tx.Status == wallet.StatusFailed:
		kind = KindTransactionFailed
		verb = "failed"
	case tx.Kind == wallet.TxBankTransfer:
		kind = KindBankTransferSettled
		verb = "settled"
	}
	return Message{
		Kind:        kind,
		Destination: tx.From,
		Body:        fmt.Sprintf("Transfer of %s %s", wallet.FormatAmount(tx.Amount, tx.Currency), verb),
	}
}

// LoggerNotifier is a stub implementation that writes notifications to
// the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
