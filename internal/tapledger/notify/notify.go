package notify

import (
	"context"

	"github.com/jmrettig/tapledger/internal/tapledger/chain"
)

type Severity string

const (
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Notification is the payload handed to the external delivery mechanism
// when the ledger's integrity is in question or the processing job has
// given up. Recipients carry the HR-manager role addresses from config.
type Notification struct {
	Severity        Severity
	Message         string
	FailedSequences []int64
	Gaps            []chain.Range
	Recipients      []string
}

// Notifier is the boundary to whatever actually delivers administrator
// alerts (mail gateway, chat webhook). Delivery mechanics live behind it.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
