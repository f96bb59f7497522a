package email

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// logSender accepts every entry and writes it to the log. It stands in for
// SES in development when no AWS credentials are configured.
type logSender struct {
	format Format
	logger *slog.Logger
}

// NewLogSender returns a BulkSender that only logs.
func NewLogSender(format Format, logger *slog.Logger) BulkSender {
	return &logSender{format: format, logger: logger}
}

func (l *logSender) SendBulk(_ context.Context, req BulkRequest) (BulkResponse, error) {
	resp := BulkResponse{Results: make([]EntryResult, len(req.Entries))}
	for i, e := range req.Entries {
		data, err := l.format.Encode(e.Data)
		if err != nil {
			return BulkResponse{}, err
		}
		id := uuid.NewString()
		l.logger.Info("email: bulk entry (not sent)",
			"template", req.TemplateName,
			"recipient_id", e.RecipientID,
			"to", e.To,
			"data", data,
			"message_id", id,
		)
		resp.Results[i] = EntryResult{RecipientID: e.RecipientID, To: e.To, MessageID: id, Status: StatusSuccess}
	}
	return resp, nil
}
