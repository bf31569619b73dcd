package events

import (
	"context"

	"zkdpp/internal/domain"
	"zkdpp/pkg/logger"
)

// LogSink writes events to the structured log. It is the fallback when no broker is
// configured.
type LogSink struct {
	logger logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink { return &LogSink{logger: log} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, event domain.VerificationEvent) error {
	s.logger.Info("Verification event", map[string]interface{}{
		"receipt_id":      event.ReceiptID.String(),
		"predicate_id":    event.PredicateID,
		"supplier_id":     event.SupplierID,
		"requester_id":    event.RequesterID,
		"result":          event.Result,
		"commitment_root": event.CommitmentRoot,
	})
	return nil
}
