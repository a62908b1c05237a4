package wallet

import "context"

// InvoiceGenerator is the wallet bridge that receives the melted funds.
// GenerateInvoice returns a BOLT11 invoice for exactly amountMsats.
type InvoiceGenerator interface {
	GenerateInvoice(ctx context.Context, amountMsats uint64, memo, federationID string) (string, error)
}

// InvoiceGeneratorFunc adapts a function to an InvoiceGenerator.
type InvoiceGeneratorFunc func(ctx context.Context, amountMsats uint64, memo, federationID string) (string, error)

func (f InvoiceGeneratorFunc) GenerateInvoice(ctx context.Context, amountMsats uint64, memo, federationID string) (string, error) {
	return f(ctx, amountMsats, memo, federationID)
}
