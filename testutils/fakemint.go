package testutils

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/elnosh/nutmelt/cashu"
	"github.com/elnosh/nutmelt/cashu/nuts/nut05"
	"github.com/gorilla/mux"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// FeeReserveFunc computes the fee reserve in sats for a melt of amount sats.
type FeeReserveFunc func(amount uint64) uint64

// DefaultFeeReserve charges 2% with a minimum of 1 sat.
func DefaultFeeReserve(amount uint64) uint64 {
	fee := amount * 2 / 100
	if fee < 1 {
		fee = 1
	}
	return fee
}

type MeltQuote struct {
	Id         string
	Request    string
	Amount     uint64
	FeeReserve uint64
	Paid       bool
}

// FakeMint serves the melt endpoints of a mint from memory. Melts never
// reach a lightning node and are paid unless set up with WithUnpaidMelts.
type FakeMint struct {
	Server *httptest.Server

	mu         sync.Mutex
	feeReserve FeeReserveFunc
	// 1-based call numbers of melt requests that come back unpaid
	unpaidMelts map[int]bool
	// respond to melt requests with 500
	failMelts bool
	quotes    map[string]*MeltQuote
	// secrets of proofs spent in paid melts
	spent       map[string]bool
	meltCalls   int
	quoteReqs   []nut05.PostMeltQuoteBolt11Request
	meltReqs    []nut05.PostMeltBolt11Request
	legacyState bool
	// paid flag set to false on paid melts while the state says PAID
	conflictingFlag bool
}

type FakeMintOption func(*FakeMint)

func WithFeeReserve(fn FeeReserveFunc) FakeMintOption {
	return func(fm *FakeMint) { fm.feeReserve = fn }
}

func WithUnpaidMelts(calls ...int) FakeMintOption {
	return func(fm *FakeMint) {
		for _, call := range calls {
			fm.unpaidMelts[call] = true
		}
	}
}

func WithFailingMelts() FakeMintOption {
	return func(fm *FakeMint) { fm.failMelts = true }
}

// WithLegacyPaidFlag makes melt responses carry only the paid flag and
// no state, like mints that predate the state field.
func WithLegacyPaidFlag() FakeMintOption {
	return func(fm *FakeMint) { fm.legacyState = true }
}

// WithConflictingPaidFlag makes paid melts answer with paid false and
// state PAID.
func WithConflictingPaidFlag() FakeMintOption {
	return func(fm *FakeMint) { fm.conflictingFlag = true }
}

func NewFakeMint(opts ...FakeMintOption) *FakeMint {
	fm := &FakeMint{
		feeReserve:  DefaultFeeReserve,
		unpaidMelts: make(map[int]bool),
		quotes:      make(map[string]*MeltQuote),
		spent:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(fm)
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/melt/quote/{method}", fm.meltQuoteRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/{method}", fm.meltTokens).Methods(http.MethodPost)
	fm.Server = httptest.NewServer(r)

	return fm
}

func (fm *FakeMint) URL() string {
	return fm.Server.URL
}

func (fm *FakeMint) Close() {
	fm.Server.Close()
}

func (fm *FakeMint) Quote(id string) (MeltQuote, bool) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	quote, ok := fm.quotes[id]
	if !ok {
		return MeltQuote{}, false
	}
	return *quote, true
}

func (fm *FakeMint) QuoteRequests() []nut05.PostMeltQuoteBolt11Request {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return append([]nut05.PostMeltQuoteBolt11Request(nil), fm.quoteReqs...)
}

func (fm *FakeMint) MeltRequests() []nut05.PostMeltBolt11Request {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return append([]nut05.PostMeltBolt11Request(nil), fm.meltReqs...)
}

func (fm *FakeMint) meltQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	if mux.Vars(req)["method"] != cashu.BOLT11_METHOD {
		writeErr(rw, cashu.PaymentMethodNotSupportedErr)
		return
	}
	var meltRequest nut05.PostMeltQuoteBolt11Request
	if err := decodeBody(req, &meltRequest); err != nil {
		writeErr(rw, *err)
		return
	}

	if meltRequest.Unit != cashu.Sat.String() {
		writeErr(rw, cashu.UnitNotSupportedErr)
		return
	}

	bolt11, err := decodepay.Decodepay(meltRequest.Request)
	if err != nil {
		writeErr(rw, *cashu.BuildCashuError("invalid invoice: "+err.Error(), cashu.InvoiceErrCode))
		return
	}
	amount := uint64(bolt11.MSatoshi) / 1000

	fm.mu.Lock()
	quote := &MeltQuote{
		Id:         randomId(),
		Request:    meltRequest.Request,
		Amount:     amount,
		FeeReserve: fm.feeReserve(amount),
	}
	fm.quotes[quote.Id] = quote
	fm.quoteReqs = append(fm.quoteReqs, meltRequest)
	fm.mu.Unlock()

	writeResponse(rw, nut05.PostMeltQuoteBolt11Response{
		Quote:      quote.Id,
		Amount:     quote.Amount,
		FeeReserve: quote.FeeReserve,
		State:      nut05.Unpaid.String(),
		Expiry:     time.Now().Add(time.Minute * 10).Unix(),
	})
}

func (fm *FakeMint) meltTokens(rw http.ResponseWriter, req *http.Request) {
	if mux.Vars(req)["method"] != cashu.BOLT11_METHOD {
		writeErr(rw, cashu.PaymentMethodNotSupportedErr)
		return
	}
	var meltRequest nut05.PostMeltBolt11Request
	if err := decodeBody(req, &meltRequest); err != nil {
		writeErr(rw, *err)
		return
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.meltCalls++
	fm.meltReqs = append(fm.meltReqs, meltRequest)

	if fm.failMelts {
		rw.WriteHeader(http.StatusInternalServerError)
		rw.Write([]byte("internal error"))
		return
	}

	quote, ok := fm.quotes[meltRequest.Quote]
	if !ok {
		writeErr(rw, cashu.QuoteNotExistErr)
		return
	}
	if quote.Paid {
		writeErr(rw, cashu.MeltQuoteAlreadyPaid)
		return
	}
	if len(meltRequest.Inputs) == 0 {
		writeErr(rw, cashu.NoProofsProvided)
		return
	}
	for _, proof := range meltRequest.Inputs {
		if fm.spent[proof.Secret] {
			writeErr(rw, cashu.ProofAlreadyUsedErr)
			return
		}
	}

	response := nut05.PostMeltBolt11Response{}
	if fm.unpaidMelts[fm.meltCalls] {
		paid := false
		response.Paid = &paid
		response.State = nut05.Unpaid.String()
	} else {
		for _, proof := range meltRequest.Inputs {
			fm.spent[proof.Secret] = true
		}
		quote.Paid = true
		paid := true
		response.Paid = &paid
		response.State = nut05.Paid.String()
		response.Preimage = randomId()
	}
	if fm.legacyState {
		response.State = ""
	}
	if fm.conflictingFlag {
		paid := false
		response.Paid = &paid
	}

	writeResponse(rw, response)
}

func decodeBody(req *http.Request, v any) *cashu.Error {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &cashu.EmptyBodyErr
		}
		return &cashu.StandardErr
	}
	return nil
}

func writeResponse(rw http.ResponseWriter, response any) {
	rw.Header().Set("Content-Type", "application/json")
	jsonRes, err := json.Marshal(response)
	if err != nil {
		writeErr(rw, cashu.StandardErr)
		return
	}
	rw.Write(jsonRes)
}

func writeErr(rw http.ResponseWriter, errResponse cashu.Error) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(rw).Encode(errResponse)
}

func randomId() string {
	var b [32]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
