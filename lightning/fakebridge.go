package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

type InvoiceRequest struct {
	AmountMsats    uint64
	Memo           string
	FederationID   string
	PaymentRequest string
	PaymentHash    string
	Preimage       string
}

// FakeBridge creates signed signet invoices that nobody will pay.
// Useful for tests and for quoting without a real node.
type FakeBridge struct {
	Requests []InvoiceRequest
}

func (fb *FakeBridge) GenerateInvoice(ctx context.Context, amountMsats uint64, memo, federationID string) (string, error) {
	req, preimage, paymentHash, err := createFakeInvoice(amountMsats, memo)
	if err != nil {
		return "", err
	}

	fb.Requests = append(fb.Requests, InvoiceRequest{
		AmountMsats:    amountMsats,
		Memo:           memo,
		FederationID:   federationID,
		PaymentRequest: req,
		PaymentHash:    paymentHash,
		Preimage:       preimage,
	})
	return req, nil
}

func (fb *FakeBridge) Close() error { return nil }

func createFakeInvoice(amountMsats uint64, memo string) (string, string, string, error) {
	var random [32]byte
	_, err := rand.Read(random[:])
	if err != nil {
		return "", "", "", err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])
	hash := hex.EncodeToString(paymentHash[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amountMsats)),
		zpay32.Description(memo),
		zpay32.Expiry(time.Minute*InvoiceExpiryMins),
	)
	if err != nil {
		return "", "", "", err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return invoiceStr, preimage, hash, nil
}
