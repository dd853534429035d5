// Command paysign signs and checks Binance Pay payloads offline, for
// debugging webhook deliveries and hand-built API calls.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Thomasjeferr/pluguin-getway-cripto/pkg/binancepay"
)

var errSignatureMismatch = errors.New("signature mismatch")

var (
	secretFlag = &cli.StringFlag{
		Name:     "secret",
		Usage:    "Binance Pay API secret",
		EnvVars:  []string{"BINANCEPAY_SECRET"},
		Required: true,
	}
	payloadFlag = &cli.StringFlag{
		Name:  "payload",
		Usage: "path to the exact request body; - reads stdin",
		Value: "-",
	}
	nonceFlag = &cli.StringFlag{
		Name:  "nonce",
		Usage: "32 character nonce; generated when empty",
	}
	timestampFlag = &cli.Int64Flag{
		Name:  "timestamp",
		Usage: "timestamp in unix milliseconds; now when zero",
	}
	certificateSNFlag = &cli.StringFlag{
		Name:  "certificate-sn",
		Usage: "certificate serial to echo in the header set",
	}
	signatureFlag = &cli.StringFlag{
		Name:     "signature",
		Usage:    "received BinancePay-Signature value",
		Required: true,
	}
)

type summary struct {
	Status       string            `json:"status"`
	Timestamp    int64             `json:"timestamp_ms,omitempty"`
	Nonce        string            `json:"nonce,omitempty"`
	Signature    string            `json:"signature,omitempty"`
	PayloadBytes int               `json:"payload_bytes"`
	Headers      map[string]string `json:"headers,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	TimestampUTC string            `json:"timestamp_utc"`
}

func newApp(in io.Reader, out io.Writer, now func() time.Time) *cli.App {
	return &cli.App{
		Name:      "paysign",
		Usage:     "Sign or verify Binance Pay payloads",
		Reader:    in,
		Writer:    out,
		ErrWriter: io.Discard,
		Commands: []*cli.Command{
			{
				Name:   "sign",
				Usage:  "Print the signature and headers for a payload",
				Flags:  []cli.Flag{secretFlag, payloadFlag, nonceFlag, timestampFlag, certificateSNFlag},
				Action: func(c *cli.Context) error { return runSign(c, now) },
			},
			{
				Name:   "verify",
				Usage:  "Check a received signature against a payload",
				Flags:  []cli.Flag{secretFlag, payloadFlag, signatureFlag, requiredNonce(), requiredTimestamp()},
				Action: func(c *cli.Context) error { return runVerify(c, now) },
			},
			{
				Name:  "nonce",
				Usage: "Print a fresh nonce",
				Action: func(c *cli.Context) error {
					n, err := binancepay.NewNonce()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(c.App.Writer, n)
					return err
				},
			},
		},
	}
}

func requiredNonce() cli.Flag {
	f := *nonceFlag
	f.Usage = "nonce from the BinancePay-Nonce header"
	f.Required = true
	return &f
}

func requiredTimestamp() cli.Flag {
	f := *timestampFlag
	f.Usage = "timestamp from the BinancePay-Timestamp header"
	f.Required = true
	return &f
}

func readPayload(c *cli.Context) ([]byte, error) {
	path := strings.TrimSpace(c.String(payloadFlag.Name))
	if path == "" || path == "-" {
		return io.ReadAll(c.App.Reader)
	}
	return os.ReadFile(path)
}

func runSign(c *cli.Context, now func() time.Time) error {
	payload, err := readPayload(c)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	ts := c.Int64(timestampFlag.Name)
	if ts == 0 {
		ts = now().UnixMilli()
	}
	nonce := strings.TrimSpace(c.String(nonceFlag.Name))
	if nonce == "" {
		if nonce, err = binancepay.NewNonce(); err != nil {
			return err
		}
	} else if !binancepay.ValidNonce(nonce) {
		return fmt.Errorf("nonce must be %d letters or digits", binancepay.NonceLength)
	}

	sig := binancepay.Sign(ts, nonce, payload, c.String(secretFlag.Name))
	headers := map[string]string{
		binancepay.HeaderTimestamp: fmt.Sprint(ts),
		binancepay.HeaderNonce:     nonce,
		binancepay.HeaderSignature: sig,
	}
	if sn := strings.TrimSpace(c.String(certificateSNFlag.Name)); sn != "" {
		headers[binancepay.HeaderCertificateSN] = sn
	}
	return write(c, now, summary{
		Status:       "PASS",
		Timestamp:    ts,
		Nonce:        nonce,
		Signature:    sig,
		PayloadBytes: len(payload),
		Headers:      headers,
	})
}

func runVerify(c *cli.Context, now func() time.Time) error {
	payload, err := readPayload(c)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	ts := c.Int64(timestampFlag.Name)
	nonce := c.String(nonceFlag.Name)
	s := summary{Status: "PASS", Timestamp: ts, Nonce: nonce, PayloadBytes: len(payload)}
	if !binancepay.Verify(ts, nonce, payload, c.String(secretFlag.Name), strings.TrimSpace(c.String(signatureFlag.Name))) {
		s.Status = "FAIL"
		s.Reason = errSignatureMismatch.Error()
		if err := write(c, now, s); err != nil {
			return err
		}
		return errSignatureMismatch
	}
	return write(c, now, s)
}

func write(c *cli.Context, now func() time.Time, s summary) error {
	s.TimestampUTC = now().UTC().Format(time.RFC3339)
	return json.NewEncoder(c.App.Writer).Encode(s)
}

func main() {
	app := newApp(os.Stdin, os.Stdout, time.Now)
	app.ErrWriter = os.Stderr
	if err := app.Run(os.Args); err != nil {
		if !errors.Is(err, errSignatureMismatch) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
