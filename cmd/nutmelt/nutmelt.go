package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/elnosh/nutmelt/cashu"
	"github.com/elnosh/nutmelt/lightning"
	"github.com/elnosh/nutmelt/wallet"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

const (
	federationFlag  = "federation"
	backendFlag     = "backend"
	timeoutFlag     = "timeout"
	logLevelFlag    = "log-level"
	metricsFileFlag = "metrics-file"
	yesFlag         = "yes"

	lndBackend  = "Lnd"
	fakeBackend = "FakeBackend"
)

// loadEnv loads the .env file from ~/.nutmelt or, if there is none,
// from the working directory. Variables already set in the environment
// take precedence.
func loadEnv() {
	var envPath string
	homedir, err := os.UserHomeDir()
	if err == nil {
		envPath = filepath.Join(homedir, ".nutmelt", ".env")
	}

	if _, err := os.Stat(envPath); err != nil || len(envPath) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return
		}
		envPath = filepath.Join(wd, ".env")
	}

	// missing file is fine, config can come from the environment alone
	_ = godotenv.Load(envPath)
}

func main() {
	loadEnv()

	app := &cli.App{
		Name:  "nutmelt",
		Usage: "melt cashu ecash tokens into lightning",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    federationFlag,
				Usage:   "federation id passed to the wallet bridge",
				EnvVars: []string{"NUTMELT_FEDERATION_ID"},
			},
			&cli.StringFlag{
				Name:    backendFlag,
				Usage:   "lightning backend that receives the funds (Lnd or FakeBackend, melt requires Lnd)",
				Value:   fakeBackend,
				EnvVars: []string{"NUTMELT_LIGHTNING_BACKEND"},
			},
			&cli.DurationFlag{
				Name:    timeoutFlag,
				Usage:   "timeout for mint requests, 0 means none",
				EnvVars: []string{"NUTMELT_HTTP_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    logLevelFlag,
				Usage:   "info, debug or disable",
				Value:   "info",
				EnvVars: []string{"NUTMELT_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:  metricsFileFlag,
				Usage: "write metrics in text format to this file after the run",
			},
		},
		Commands: []*cli.Command{
			decodeCmd,
			quoteCmd,
			meltCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	Usage:     "Decode a cashu token and print its proofs",
	ArgsUsage: "[TOKEN]",
	Action:    decode,
}

type decodedSummary struct {
	Mint   string         `json:"mint"`
	Unit   string         `json:"unit,omitempty"`
	Memo   string         `json:"memo,omitempty"`
	Amount uint64         `json:"amount"`
	Tokens []tokenSummary `json:"tokens"`
}

type tokenSummary struct {
	KeysetId string `json:"keyset_id"`
	Proofs   int    `json:"proofs"`
	Amount   uint64 `json:"amount"`
}

func decode(ctx *cli.Context) error {
	payload, err := payloadFromArgs(ctx)
	if err != nil {
		return err
	}

	summary := decodedSummary{
		Mint:   payload.Mint,
		Unit:   payload.Unit,
		Memo:   payload.Memo,
		Amount: payload.Amount(),
		Tokens: make([]tokenSummary, len(payload.Tokens)),
	}
	for i, token := range payload.Tokens {
		summary.Tokens[i] = tokenSummary{
			KeysetId: token.KeysetId,
			Proofs:   len(token.Proofs),
			Amount:   token.Proofs.Amount(),
		}
	}

	jsonSummary, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonSummary))
	return nil
}

var quoteCmd = &cli.Command{
	Name:      "quote",
	Usage:     "Negotiate melt quotes for a token without spending it",
	ArgsUsage: "[TOKEN]",
	Action:    quote,
}

func quote(ctx *cli.Context) error {
	payload, err := payloadFromArgs(ctx)
	if err != nil {
		return err
	}

	return withMelter(ctx, func(melter *wallet.Melter, bridge lightning.Bridge) error {
		summary, err := melter.GetMeltQuotes(ctx.Context, payload, bridge, ctx.String(federationFlag))
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	})
}

var meltCmd = &cli.Command{
	Name:      "melt",
	Usage:     "Melt a token into the configured lightning backend",
	ArgsUsage: "[TOKEN]",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  yesFlag,
			Usage: "do not ask for confirmation",
		},
	},
	Action: melt,
}

func melt(ctx *cli.Context) error {
	if err := checkMeltBackend(ctx.String(backendFlag)); err != nil {
		return err
	}
	payload, err := payloadFromArgs(ctx)
	if err != nil {
		return err
	}

	return withMelter(ctx, func(melter *wallet.Melter, bridge lightning.Bridge) error {
		summary, err := melter.GetMeltQuotes(ctx.Context, payload, bridge, ctx.String(federationFlag))
		if err != nil {
			return err
		}
		printSummary(summary)

		if !ctx.Bool(yesFlag) && !confirm(os.Stdin, "melt tokens?") {
			fmt.Println("aborted")
			return nil
		}

		result, err := melter.ExecuteMelts(ctx.Context, summary)
		if err != nil {
			return err
		}
		fmt.Printf("settled %v msats\n", result.SettledMsats)
		return nil
	})
}

// checkMeltBackend rejects backends whose invoices nobody can pay out,
// since melting spends the proofs.
func checkMeltBackend(backend string) error {
	if backend == fakeBackend {
		return fmt.Errorf("cannot melt to %v: its invoices are never received, use --%v %v",
			fakeBackend, backendFlag, lndBackend)
	}
	return nil
}

func payloadFromArgs(ctx *cli.Context) (cashu.ParsedPayload, error) {
	args := ctx.Args()
	if args.Len() < 1 {
		return cashu.ParsedPayload{}, errors.New("cashu token not provided")
	}
	return cashu.DecodeCashuTokens(args.First())
}

// withMelter sets up the melter and bridge from the global flags, runs fn
// and writes the metrics file if one was requested.
func withMelter(ctx *cli.Context, fn func(*wallet.Melter, lightning.Bridge) error) error {
	logLevel, err := wallet.ParseLogLevel(ctx.String(logLevelFlag))
	if err != nil {
		return err
	}
	config := wallet.Config{
		HTTPTimeout: ctx.Duration(timeoutFlag),
		LogLevel:    logLevel,
		Logger:      cliLogger(logLevel),
	}

	var registry *prometheus.Registry
	if ctx.IsSet(metricsFileFlag) {
		registry = prometheus.NewRegistry()
		config.Metrics, err = wallet.NewMetrics(registry)
		if err != nil {
			return err
		}
	}

	bridge, err := setupBridge(ctx.String(backendFlag), config.Logger)
	if err != nil {
		return err
	}
	defer bridge.Close()

	runErr := fn(wallet.NewMelter(config), bridge)

	if registry != nil {
		if err := prometheus.WriteToTextfile(ctx.String(metricsFileFlag), registry); err != nil {
			config.Logger.Error("could not write metrics file", slog.String("error", err.Error()))
		}
	}
	return runErr
}

func setupBridge(backend string, logger *slog.Logger) (lightning.Bridge, error) {
	switch backend {
	case lndBackend:
		lndConfig, err := lightning.LndConfigFromEnv()
		if err != nil {
			return nil, err
		}
		lndBridge, err := lightning.SetupLndBridge(lndConfig, logger)
		if err != nil {
			return nil, err
		}
		return lndBridge, nil
	case fakeBackend:
		return &lightning.FakeBridge{}, nil
	default:
		return nil, fmt.Errorf("invalid lightning backend '%v'", backend)
	}
}

// logs go to stderr so decoded output on stdout stays clean
func cliLogger(level wallet.LogLevel) *slog.Logger {
	switch level {
	case wallet.Disable:
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	case wallet.Debug:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

func printSummary(summary wallet.MeltSummary) {
	for i, quote := range summary.Quotes {
		fmt.Printf("quote %v: %v msats (fee reserve %v msats) from %v\n",
			i+1, quote.AmountMsats, quote.FeesMsats, quote.MintHost)
	}
	fmt.Printf("total: %v msats, fee reserve: %v msats\n", summary.TotalAmount, summary.TotalFees)
}

func confirm(in io.Reader, prompt string) bool {
	fmt.Printf("%v [y/N]: ", prompt)
	reader := bufio.NewReader(in)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
