package lightning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"
)

const (
	LND_GRPC_HOST     = "LND_GRPC_HOST"
	LND_CERT_PATH     = "LND_CERT_PATH"
	LND_MACAROON_PATH = "LND_MACAROON_PATH"
)

type LndConfig struct {
	GRPCHost string
	Cert     credentials.TransportCredentials
	Macaroon macaroons.MacaroonCredential
}

// LndBridge receives melted funds into an LND node. LND has no notion of
// a federation, so the federation id is only logged.
type LndBridge struct {
	conn       *grpc.ClientConn
	grpcClient lnrpc.LightningClient
	logger     *slog.Logger
}

// LndConfigFromEnv reads the LND connection settings from the environment.
func LndConfigFromEnv() (LndConfig, error) {
	host := os.Getenv(LND_GRPC_HOST)
	if host == "" {
		return LndConfig{}, errors.New(LND_GRPC_HOST + " cannot be empty")
	}
	certPath := os.Getenv(LND_CERT_PATH)
	if certPath == "" {
		return LndConfig{}, errors.New(LND_CERT_PATH + " cannot be empty")
	}
	macaroonPath := os.Getenv(LND_MACAROON_PATH)
	if macaroonPath == "" {
		return LndConfig{}, errors.New(LND_MACAROON_PATH + " cannot be empty")
	}

	creds, err := credentials.NewClientTLSFromFile(certPath, "")
	if err != nil {
		return LndConfig{}, fmt.Errorf("error reading tls cert: %v", err)
	}

	macaroonBytes, err := os.ReadFile(macaroonPath)
	if err != nil {
		return LndConfig{}, fmt.Errorf("error reading macaroon: os.ReadFile %v", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macaroonBytes); err != nil {
		return LndConfig{}, fmt.Errorf("unable to decode macaroon: %v", err)
	}
	macarooncreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return LndConfig{}, fmt.Errorf("error setting macaroon creds: %v", err)
	}

	return LndConfig{GRPCHost: host, Cert: creds, Macaroon: macarooncreds}, nil
}

func SetupLndBridge(config LndConfig, logger *slog.Logger) (*LndBridge, error) {
	conn, err := grpc.NewClient(
		config.GRPCHost,
		grpc.WithTransportCredentials(config.Cert),
		grpc.WithPerRPCCredentials(config.Macaroon),
	)
	if err != nil {
		return nil, fmt.Errorf("error setting up grpc client: %v", err)
	}

	return newLndBridge(conn, logger), nil
}

func newLndBridge(conn *grpc.ClientConn, logger *slog.Logger) *LndBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &LndBridge{
		conn:       conn,
		grpcClient: lnrpc.NewLightningClient(conn),
		logger:     logger,
	}
}

func (lnd *LndBridge) GenerateInvoice(ctx context.Context, amountMsats uint64, memo, federationID string) (string, error) {
	invoiceRequest := lnrpc.Invoice{
		Memo:      memo,
		ValueMsat: int64(amountMsats),
		Expiry:    InvoiceExpiryMins * 60,
	}

	response, err := lnd.grpcClient.AddInvoice(ctx, &invoiceRequest)
	if err != nil {
		return "", err
	}

	lnd.logger.Debug("created invoice",
		slog.Uint64("amount_msats", amountMsats),
		slog.String("federation_id", federationID),
		slog.String("payment_request", response.PaymentRequest))

	return response.PaymentRequest, nil
}

func (lnd *LndBridge) Close() error {
	return lnd.conn.Close()
}
