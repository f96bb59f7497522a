package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESAPI is the slice of *sesv2.Client the sender calls.
type SESAPI interface {
	SendBulkEmail(ctx context.Context, in *sesv2.SendBulkEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendBulkEmailOutput, error)
}

// SESConfig holds the sender identity and payload options.
type SESConfig struct {
	FromAddr string // e.g. "noreply@example.jp"
	FromName string // e.g. "認定事務局"
	BccAddr  string // copied on every entry when set
	Format   Format
}

// sesSender is the concrete BulkSender backed by SES v2 SendBulkEmail.
type sesSender struct {
	api    SESAPI
	cfg    SESConfig
	logger *slog.Logger
}

// NewSESSender returns a BulkSender that delivers through api.
func NewSESSender(api SESAPI, cfg SESConfig, logger *slog.Logger) BulkSender {
	return &sesSender{api: api, cfg: cfg, logger: logger}
}

// NewSESClient builds the SES v2 client from an AWS config. endpoint
// overrides the service URL, e.g. for a local emulator; leave it empty to
// use the regional endpoint.
func NewSESClient(awsCfg aws.Config, endpoint string) *sesv2.Client {
	return sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func (s *sesSender) SendBulk(ctx context.Context, req BulkRequest) (BulkResponse, error) {
	if len(req.Entries) == 0 {
		return BulkResponse{}, nil
	}
	if len(req.Entries) > MaxEntries {
		return BulkResponse{}, fmt.Errorf("email: %d entries exceeds the bulk limit of %d", len(req.Entries), MaxEntries)
	}

	in, err := s.buildInput(req)
	if err != nil {
		return BulkResponse{}, err
	}

	out, err := s.api.SendBulkEmail(ctx, in)
	if err != nil {
		return BulkResponse{}, fmt.Errorf("email: SES SendBulkEmail: %w", err)
	}

	resp := BulkResponse{Results: make([]EntryResult, len(req.Entries))}
	for i, e := range req.Entries {
		r := EntryResult{RecipientID: e.RecipientID, To: e.To}
		if i < len(out.BulkEmailEntryResults) {
			res := out.BulkEmailEntryResults[i]
			r.Status = string(res.Status)
			r.MessageID = aws.ToString(res.MessageId)
			r.Error = aws.ToString(res.Error)
		}
		resp.Results[i] = r
	}

	for _, rej := range resp.Rejected() {
		s.logger.Warn("email: SES rejected entry",
			"recipient_id", rej.RecipientID,
			"status", rej.Status,
			"error", rej.Error,
		)
	}
	return resp, nil
}

// ─── SES REQUEST SHAPE ────────────────────────────────────────────────────────

func (s *sesSender) buildInput(req BulkRequest) (*sesv2.SendBulkEmailInput, error) {
	var bcc []string
	if s.cfg.BccAddr != "" {
		bcc = []string{s.cfg.BccAddr}
	}

	entries := make([]types.BulkEmailEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		data, err := s.cfg.Format.Encode(e.Data)
		if err != nil {
			return nil, fmt.Errorf("email: recipient %d: %w", e.RecipientID, err)
		}
		entries = append(entries, types.BulkEmailEntry{
			Destination: &types.Destination{
				ToAddresses:  []string{e.To},
				CcAddresses:  []string{},
				BccAddresses: bcc,
			},
			ReplacementEmailContent: &types.ReplacementEmailContent{
				ReplacementTemplate: &types.ReplacementTemplate{
					ReplacementTemplateData: aws.String(data),
				},
			},
		})
	}

	return &sesv2.SendBulkEmailInput{
		FromEmailAddress: aws.String(FromHeader(s.cfg.FromName, s.cfg.FromAddr)),
		DefaultContent: &types.BulkEmailContent{
			Template: &types.Template{
				TemplateName: aws.String(req.TemplateName),
				TemplateData: aws.String(s.cfg.Format.DefaultTemplateData()),
			},
		},
		BulkEmailEntries: entries,
	}, nil
}
