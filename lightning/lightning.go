// Package lightning contains wallet bridge backends that generate the
// Lightning invoices a mint pays when melting ecash.
package lightning

import "context"

const (
	InvoiceExpiryMins = 10
)

// Bridge is a Lightning backend able to receive melted funds.
type Bridge interface {
	GenerateInvoice(ctx context.Context, amountMsats uint64, memo, federationID string) (string, error)
	Close() error
}
