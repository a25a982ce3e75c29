package sink

import (
	"context"
	"log/slog"
)

// Log writes each purchase as a structured log line.
type Log struct {
	logger *slog.Logger
	token  string
}

func NewLog(logger *slog.Logger, token string) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "sink-log"), token: token}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Publish(ctx context.Context, msg Message) error {
	l.logger.Info("purchase alert",
		"tier", msg.Tier,
		"total", FormatNumber(msg.TotalAmount)+" "+l.token,
		"paid", FormatPaid(msg.PaidAmount, msg.PaymentMethod),
		"usd", FormatNumber(msg.USDValue),
		"buyer", ShortAddress(msg.Buyer),
		"tx", msg.TxHash,
		"block", msg.BlockNumber,
		"source", msg.Source,
		"delivery_id", msg.DeliveryID,
	)
	return nil
}
