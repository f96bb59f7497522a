// Package email defines the interface for templated bulk email delivery and
// provides an Amazon SES v2 implementation plus a log-only one for local use.
package email

import "context"

// Entry is one recipient of a bulk call.
type Entry struct {
	RecipientID int64             // users.id, carried for result reporting
	To          string            // destination address
	Data        map[string]string // template substitutions; may be empty
}

// BulkRequest sends one provider-side template to up to MaxEntries
// recipients.
type BulkRequest struct {
	TemplateName string
	Entries      []Entry
}

// EntryResult is the provider's verdict for one entry.
type EntryResult struct {
	RecipientID int64
	To          string
	MessageID   string
	Status      string // provider status, "SUCCESS" on acceptance
	Error       string
}

// BulkResponse lists one result per entry, in request order.
type BulkResponse struct {
	Results []EntryResult
}

// StatusSuccess is the per-entry status of an accepted message.
const StatusSuccess = "SUCCESS"

// Rejected returns the entries the provider did not accept.
func (r BulkResponse) Rejected() []EntryResult {
	var out []EntryResult
	for _, e := range r.Results {
		if e.Status != StatusSuccess {
			out = append(out, e)
		}
	}
	return out
}

// MaxEntries is the most recipients one bulk call may carry.
const MaxEntries = 14

// BulkSender is the interface the dispatcher uses to reach the provider.
// Tests inject a stub that records calls without hitting the network.
type BulkSender interface {
	// SendBulk issues one bulk call. A non-nil error means the call as a
	// whole failed; per-entry rejections are reported in BulkResponse.
	SendBulk(ctx context.Context, req BulkRequest) (BulkResponse, error)
}
