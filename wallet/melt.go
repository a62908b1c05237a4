package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"strings"

	"github.com/elnosh/nutmelt/cashu"
	"github.com/elnosh/nutmelt/cashu/nuts/nut05"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const MeltMemo = "cashu melt"

var (
	ErrMissingFederationID   = errors.New("federation id is required")
	ErrPaymentFailed         = errors.New("payment failed")
	ErrEmptyToken            = errors.New("token group has no proofs")
	ErrFeeExceedsAmount      = errors.New("fee reserve exceeds token amount")
	ErrInvoiceAmountMismatch = errors.New("invoice amount does not match requested amount")
	ErrAmountOverflow        = errors.New("amount overflows msats")
)

// MeltQuote is the negotiated settlement of a single token group.
// AmountMsats is the net payout and FeesMsats the mint's fee reserve.
type MeltQuote struct {
	MintHost    string
	MeltPayload nut05.PostMeltBolt11Request
	AmountMsats uint64
	FeesMsats   uint64
}

type MeltSummary struct {
	Quotes      []MeltQuote
	TotalFees   uint64
	TotalAmount uint64
}

type MeltResult struct {
	SettledMsats uint64
}

// Melter negotiates and executes melts of decoded ecash payloads.
// It holds no per-operation state and can be reused.
type Melter struct {
	client  *MintClient
	logger  *slog.Logger
	metrics *Metrics
}

func NewMelter(config Config) *Melter {
	return &Melter{
		client:  NewMintClient(config.httpClient()),
		logger:  config.logger(),
		metrics: config.Metrics,
	}
}

var defaultMelter = NewMelter(Config{LogLevel: Disable})

// GetMeltQuotes negotiates a quote for each token group of payload using
// the default Melter.
func GetMeltQuotes(
	ctx context.Context,
	payload cashu.ParsedPayload,
	bridge InvoiceGenerator,
	federationID string,
) (MeltSummary, error) {
	return defaultMelter.GetMeltQuotes(ctx, payload, bridge, federationID)
}

// ExecuteMelts settles every quote of summary using the default Melter.
func ExecuteMelts(ctx context.Context, summary MeltSummary) (MeltResult, error) {
	return defaultMelter.ExecuteMelts(ctx, summary)
}

// GetMeltQuotes negotiates one quote per token group, in order. Groups
// are never merged, even when they share the mint.
func (m *Melter) GetMeltQuotes(
	ctx context.Context,
	payload cashu.ParsedPayload,
	bridge InvoiceGenerator,
	federationID string,
) (MeltSummary, error) {
	if len(federationID) == 0 {
		return MeltSummary{}, ErrMissingFederationID
	}

	mintHost := strings.TrimSuffix(payload.Mint, "/")
	summary := MeltSummary{Quotes: make([]MeltQuote, 0, len(payload.Tokens))}

	for i, token := range payload.Tokens {
		quote, err := m.negotiateQuote(ctx, mintHost, token, bridge, federationID)
		if err != nil {
			m.metrics.incQuote("error", 0)
			m.logger.Error("melt quote failed",
				slog.String("mint", mintHost),
				slog.Int("token_group", i),
				slog.String("error", err.Error()))
			return MeltSummary{}, err
		}
		m.metrics.incQuote("ok", quote.FeesMsats)

		totalFees, err := addMsats(summary.TotalFees, quote.FeesMsats)
		if err != nil {
			return MeltSummary{}, err
		}
		totalAmount, err := addMsats(summary.TotalAmount, quote.AmountMsats)
		if err != nil {
			return MeltSummary{}, err
		}
		summary.Quotes = append(summary.Quotes, quote)
		summary.TotalFees = totalFees
		summary.TotalAmount = totalAmount
	}

	return summary, nil
}

// negotiateQuote runs the two round fee discovery for a token group. The
// first quote, for the full amount, only discovers the fee reserve. The
// second invoice is for the amount minus that fee and its quote is used
// as is, without checking whether the fee moved again.
func (m *Melter) negotiateQuote(
	ctx context.Context,
	mintHost string,
	token cashu.Token,
	bridge InvoiceGenerator,
	federationID string,
) (MeltQuote, error) {
	totalTokenSats, ok := token.Proofs.CheckedAmount()
	if !ok {
		return MeltQuote{}, fmt.Errorf("%w: sum of proofs in keyset %v", ErrAmountOverflow, token.KeysetId)
	}
	if totalTokenSats == 0 {
		return MeltQuote{}, ErrEmptyToken
	}
	totalAmountMsats, err := satsToMsats(totalTokenSats)
	if err != nil {
		return MeltQuote{}, err
	}

	trialQuote, err := m.requestQuote(ctx, mintHost, bridge, totalAmountMsats, federationID)
	if err != nil {
		return MeltQuote{}, err
	}
	targetFeeMsats, err := satsToMsats(trialQuote.FeeReserve)
	if err != nil {
		return MeltQuote{}, err
	}
	if targetFeeMsats >= totalAmountMsats {
		return MeltQuote{}, fmt.Errorf("%w: fee reserve of %v sats for %v sats", ErrFeeExceedsAmount, trialQuote.FeeReserve, totalTokenSats)
	}
	m.logger.Debug("trial melt quote",
		slog.String("mint", mintHost),
		slog.String("keyset", token.KeysetId),
		slog.Uint64("amount_msats", totalAmountMsats),
		slog.Uint64("fee_reserve_msats", targetFeeMsats))

	candidateAmountMsats := totalAmountMsats - targetFeeMsats
	finalQuote, err := m.requestQuote(ctx, mintHost, bridge, candidateAmountMsats, federationID)
	if err != nil {
		return MeltQuote{}, err
	}

	amountMsats, err := satsToMsats(finalQuote.Amount)
	if err != nil {
		return MeltQuote{}, err
	}
	feesMsats, err := satsToMsats(finalQuote.FeeReserve)
	if err != nil {
		return MeltQuote{}, err
	}
	quote := MeltQuote{
		MintHost: mintHost,
		MeltPayload: nut05.PostMeltBolt11Request{
			Quote:  finalQuote.Quote,
			Inputs: token.Proofs,
		},
		AmountMsats: amountMsats,
		FeesMsats:   feesMsats,
	}
	if quoteTotal, err := addMsats(amountMsats, feesMsats); err != nil || quoteTotal > totalAmountMsats {
		m.logger.Warn("melt quote exceeds token amount",
			slog.String("quote", quote.MeltPayload.Quote),
			slog.Uint64("token_msats", totalAmountMsats),
			slog.Uint64("amount_msats", quote.AmountMsats),
			slog.Uint64("fee_reserve_msats", quote.FeesMsats))
	}
	m.logger.Debug("final melt quote",
		slog.String("mint", mintHost),
		slog.String("quote", quote.MeltPayload.Quote),
		slog.Uint64("amount_msats", quote.AmountMsats),
		slog.Uint64("fee_reserve_msats", quote.FeesMsats))

	return quote, nil
}

func (m *Melter) requestQuote(
	ctx context.Context,
	mintHost string,
	bridge InvoiceGenerator,
	amountMsats uint64,
	federationID string,
) (*nut05.PostMeltQuoteBolt11Response, error) {
	invoice, err := bridge.GenerateInvoice(ctx, amountMsats, MeltMemo, federationID)
	if err != nil {
		return nil, err
	}
	if err := checkInvoiceAmount(invoice, amountMsats); err != nil {
		return nil, err
	}

	meltQuoteRequest := nut05.PostMeltQuoteBolt11Request{Request: invoice, Unit: cashu.Sat.String()}
	return m.client.PostMeltQuoteBolt11(ctx, mintHost, meltQuoteRequest)
}

func satsToMsats(sats uint64) (uint64, error) {
	hi, msats := bits.Mul64(sats, 1000)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %v sats", ErrAmountOverflow, sats)
	}
	return msats, nil
}

func addMsats(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %v + %v msats", ErrAmountOverflow, a, b)
	}
	return sum, nil
}

func checkInvoiceAmount(invoice string, amountMsats uint64) error {
	bolt11, err := decodepay.Decodepay(invoice)
	if err != nil {
		return fmt.Errorf("invalid invoice from wallet bridge: %v", err)
	}
	if bolt11.MSatoshi < 0 || uint64(bolt11.MSatoshi) != amountMsats {
		return fmt.Errorf("%w: requested %v msats but invoice is for %v msats",
			ErrInvoiceAmountMismatch, amountMsats, bolt11.MSatoshi)
	}
	return nil
}

// ExecuteMelts submits each quote to its mint strictly in order. The first
// quote that is not paid aborts the remaining ones and fails the whole
// operation with ErrPaymentFailed. Amounts settled by earlier quotes are
// not returned on failure; they are only logged.
func (m *Melter) ExecuteMelts(ctx context.Context, summary MeltSummary) (MeltResult, error) {
	var settledMsats uint64

	for i, quote := range summary.Quotes {
		meltResponse, err := m.client.PostMeltBolt11(ctx, quote.MintHost, quote.MeltPayload)
		if err != nil {
			m.metrics.incMelt("error", 0)
			m.logMeltAborted(quote, i, len(summary.Quotes), settledMsats, err)
			return MeltResult{}, err
		}

		if !meltResponse.IsPaid() {
			m.metrics.incMelt("unpaid", 0)
			err := fmt.Errorf("%w: quote %v was not paid", ErrPaymentFailed, quote.MeltPayload.Quote)
			m.logMeltAborted(quote, i, len(summary.Quotes), settledMsats, err)
			return MeltResult{}, err
		}

		settledMsats += quote.AmountMsats
		m.metrics.incMelt("paid", quote.AmountMsats)
		m.logger.Info("melt settled",
			slog.String("mint", quote.MintHost),
			slog.String("quote", quote.MeltPayload.Quote),
			slog.Uint64("amount_msats", quote.AmountMsats))
	}

	return MeltResult{SettledMsats: settledMsats}, nil
}

func (m *Melter) logMeltAborted(quote MeltQuote, index, total int, settledMsats uint64, err error) {
	m.logger.Error("melt aborted",
		slog.String("mint", quote.MintHost),
		slog.String("quote", quote.MeltPayload.Quote),
		slog.Int("quote_index", index),
		slog.Int("quotes", total),
		slog.Uint64("settled_msats", settledMsats),
		slog.String("error", err.Error()))
}
