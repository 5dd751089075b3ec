// Package knowledge provides HTTP clients for external clinical knowledge
// sources: the drug interaction database and the patient record service.
// Calls run behind circuit breakers; a down source returns an error so the
// safety checkers can degrade instead of blocking review.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/rx-engine/internal/safety"
	"github.com/careloop/rx-engine/pkg/circuitbreaker"
)

// Config holds knowledge client configuration.
type Config struct {
	InteractionBaseURL string
	PatientBaseURL     string
	APIKey             string
	Timeout            time.Duration
}

// DefaultConfig returns client defaults.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second}
}

// InteractionClient queries the drug interaction knowledge base.
type InteractionClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewInteractionClient creates a client for the interaction source.
func NewInteractionClient(cfg Config, breakers *circuitbreaker.Manager, logger *zap.Logger) *InteractionClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &InteractionClient{
		baseURL: strings.TrimRight(cfg.InteractionBaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		breaker: breakers.GetOrCreate("interaction-db", circuitbreaker.DefaultConfig("interaction-db")),
		logger:  logger,
	}
}

// Interactions returns the known pairwise interactions among the given
// medications. A 404 means the source knows none of the drugs; that is an
// empty result, not an error.
func (c *InteractionClient) Interactions(ctx context.Context, medications []string) ([]safety.InteractionFinding, error) {
	endpoint := fmt.Sprintf("%s/v1/interactions?drugs=%s",
		c.baseURL, url.QueryEscape(strings.Join(medications, ",")))

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		var findings []safety.InteractionFinding
		found, err := c.getJSON(ctx, endpoint, &findings)
		if err != nil {
			return nil, err
		}
		if !found {
			return []safety.InteractionFinding{}, nil
		}
		return findings, nil
	})
	if err != nil {
		return nil, fmt.Errorf("interaction lookup: %w", err)
	}
	return result.([]safety.InteractionFinding), nil
}

func (c *InteractionClient) getJSON(ctx context.Context, endpoint string, dst interface{}) (bool, error) {
	return getJSON(ctx, c.client, endpoint, c.apiKey, dst)
}

// PatientClient queries the patient record service for allergy and condition
// history.
type PatientClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewPatientClient creates a client for the patient record service.
func NewPatientClient(cfg Config, breakers *circuitbreaker.Manager, logger *zap.Logger) *PatientClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &PatientClient{
		baseURL: strings.TrimRight(cfg.PatientBaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		breaker: breakers.GetOrCreate("patient-records", circuitbreaker.DefaultConfig("patient-records")),
		logger:  logger,
	}
}

// Allergies returns the patient's recorded allergies. An unknown patient
// yields an empty history.
func (c *PatientClient) Allergies(ctx context.Context, patientID string) ([]safety.PatientAllergy, error) {
	endpoint := fmt.Sprintf("%s/v1/patients/%s/allergies", c.baseURL, url.PathEscape(patientID))

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		var allergies []safety.PatientAllergy
		found, err := getJSON(ctx, c.client, endpoint, c.apiKey, &allergies)
		if err != nil {
			return nil, err
		}
		if !found {
			return []safety.PatientAllergy{}, nil
		}
		return allergies, nil
	})
	if err != nil {
		return nil, fmt.Errorf("allergy lookup: %w", err)
	}
	return result.([]safety.PatientAllergy), nil
}

// Conditions returns the patient's recorded medical conditions.
func (c *PatientClient) Conditions(ctx context.Context, patientID string) ([]safety.PatientCondition, error) {
	endpoint := fmt.Sprintf("%s/v1/patients/%s/conditions", c.baseURL, url.PathEscape(patientID))

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		var conditions []safety.PatientCondition
		found, err := getJSON(ctx, c.client, endpoint, c.apiKey, &conditions)
		if err != nil {
			return nil, err
		}
		if !found {
			return []safety.PatientCondition{}, nil
		}
		return conditions, nil
	})
	if err != nil {
		return nil, fmt.Errorf("condition lookup: %w", err)
	}
	return result.([]safety.PatientCondition), nil
}

// getJSON fetches and decodes a JSON response. Returns found=false on 404.
func getJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, dst interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("source returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}
