package banking

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// HTTPClientConfig configures the mTLS connection to the bank gateway.
type HTTPClientConfig struct {
	BaseURL  string
	CertFile string
	KeyFile  string
	CAFile   string
	Timeout  time.Duration
}

// HTTPClient is the real Banking Port: JSON over mTLS to the bank gateway.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient loads the client certificate and CA bundle and builds an mTLS client.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("banking gateway url is required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errors.New("ca bundle contains no certificates")
		}
		tlsCfg.RootCAs = pool
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}
	return NewHTTPClientWithClient(cfg.BaseURL, client), nil
}

// NewHTTPClientWithClient wires a preconfigured http.Client.
func NewHTTPClientWithClient(baseURL string, client *http.Client) *HTTPClient {
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type gatewayRequest struct {
	ABN         string `json:"abn"`
	TaxType     string `json:"tax_type"`
	PeriodID    string `json:"period_id"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"`
	Destination any    `json:"destination"`
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Release posts the transfer to /v1/{rail}/releases with the Idempotency-Key header.
// 4xx responses are rejections. 429 and 503 are transient and undelivered; other
// 5xx and transport failures are transient but may have executed.
func (c *HTTPClient) Release(ctx context.Context, req Request) (Receipt, error) {
	amount := req.AmountCents
	if amount < 0 {
		amount = -amount
	}
	body, err := json.Marshal(gatewayRequest{
		ABN:         req.ABN,
		TaxType:     req.TaxType,
		PeriodID:    req.PeriodID,
		AmountCents: amount,
		Reference:   req.Reference,
		Destination: req.Destination,
	})
	if err != nil {
		return Receipt{}, Rejected(fmt.Errorf("encode gateway request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/%s/releases", c.baseURL, strings.ToLower(string(req.Destination.Rail)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, Rejected(fmt.Errorf("build gateway request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdemKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Receipt{}, Transient(fmt.Errorf("gateway call: %w", err))
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, Transient(fmt.Errorf("read gateway response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var receipt Receipt
		if err := json.Unmarshal(payload, &receipt); err != nil {
			return Receipt{}, Transient(fmt.Errorf("decode gateway receipt: %w", err))
		}
		if receipt.ProviderRef == "" {
			return Receipt{}, Transient(errors.New("gateway receipt missing provider_ref"))
		}
		return receipt.Normalize(), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return Receipt{}, Undelivered(fmt.Errorf("gateway status %d: %s", resp.StatusCode, describe(payload)))
	case resp.StatusCode >= 500:
		return Receipt{}, Transient(fmt.Errorf("gateway status %d: %s", resp.StatusCode, describe(payload)))
	default:
		return Receipt{}, Rejected(fmt.Errorf("gateway status %d: %s", resp.StatusCode, describe(payload)))
	}
}

func describe(payload []byte) string {
	var ge gatewayError
	if json.Unmarshal(payload, &ge) == nil && (ge.Code != "" || ge.Message != "") {
		return strings.TrimSpace(ge.Code + " " + ge.Message)
	}
	return strings.TrimSpace(string(payload))
}
