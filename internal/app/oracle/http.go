package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/pkg/logger"
)

// HTTPOracle talks to an external decryption gateway over HTTP. The gateway
// delivers its callback separately, by POSTing to the callback reference
// given at submission time.
type HTTPOracle struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ Oracle = (*HTTPOracle)(nil)

// NewHTTPOracle constructs an oracle client for the given gateway endpoint.
func NewHTTPOracle(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPOracle, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("oracle endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse oracle endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("oracle-http")
	}
	return &HTTPOracle{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (o *HTTPOracle) post(ctx context.Context, path string, payload, out any) error {
	target := *o.endpoint
	target.Path = strings.TrimRight(target.Path, "/") + path

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("oracle status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode oracle response: %w", err)
	}
	return nil
}

func (o *HTTPOracle) RequestDecryption(ctx context.Context, handles []compute.Handle, callbackRef string) (string, error) {
	if len(handles) == 0 {
		return "", fmt.Errorf("empty decryption batch")
	}

	payload := struct {
		Handles     []compute.Handle `json:"handles"`
		CallbackRef string           `json:"callback_ref"`
	}{Handles: handles, CallbackRef: callbackRef}

	var reply struct {
		CorrelationID string `json:"correlation_id"`
	}
	if err := o.post(ctx, "/decrypt", payload, &reply); err != nil {
		return "", err
	}
	if strings.TrimSpace(reply.CorrelationID) == "" {
		return "", fmt.Errorf("oracle returned empty correlation id")
	}
	return reply.CorrelationID, nil
}

func (o *HTTPOracle) VerifyProof(ctx context.Context, correlationID string, cleartexts []int64, proof []byte) bool {
	payload := struct {
		CorrelationID string  `json:"correlation_id"`
		Cleartexts    []int64 `json:"cleartexts"`
		Proof         []byte  `json:"proof"`
	}{CorrelationID: correlationID, Cleartexts: cleartexts, Proof: proof}

	var reply struct {
		Valid bool `json:"valid"`
	}
	if err := o.post(ctx, "/verify", payload, &reply); err != nil {
		o.log.WithError(err).WithField("correlation_id", correlationID).Warn("proof verification call failed")
		return false
	}
	return reply.Valid
}
