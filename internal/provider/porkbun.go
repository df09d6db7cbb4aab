package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Porkbun talks to the Porkbun v3 JSON API. Every call is a POST carrying
// the shared-secret credential pair in the request body.
type Porkbun struct {
	baseURL   string
	apiKey    string
	secretKey string
	priority  int
	client    *http.Client
	logger    *zap.Logger
}

func NewPorkbun(baseURL, apiKey, secretKey string, priority int, logger *zap.Logger) *Porkbun {
	return &Porkbun{
		baseURL:   baseURL,
		apiKey:    apiKey,
		secretKey: secretKey,
		priority:  priority,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger.With(zap.String("provider", "porkbun")),
	}
}

func (p *Porkbun) Name() string  { return "porkbun" }
func (p *Porkbun) Priority() int { return p.priority }

type porkbunResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      any    `json:"id"`
	Records []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Type    string `json:"type"`
		Content string `json:"content"`
		TTL     string `json:"ttl"`
	} `json:"records"`
}

func (p *Porkbun) post(ctx context.Context, path string, extra map[string]any, out *porkbunResponse) error {
	body := map[string]any{
		"apikey":       p.apiKey,
		"secretapikey": p.secretKey,
	}
	for k, v := range extra {
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("porkbun: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("porkbun: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("porkbun: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("porkbun: decode response from %s: %w", path, err)
	}
	if out.Status != "SUCCESS" {
		if resp.StatusCode == http.StatusBadRequest {
			// Porkbun reports unknown domains as a 400 with an "Invalid domain"
			// style message rather than a distinct code.
			return fmt.Errorf("porkbun: %s: %s: %w", path, out.Message, ErrZoneNotFound)
		}
		return fmt.Errorf("porkbun: %s returned %q: %s", path, out.Status, out.Message)
	}
	return nil
}

func (p *Porkbun) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	var resp porkbunResponse
	if err := p.post(ctx, "/ping", nil, &resp); err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	return HealthStatus{Healthy: true}
}

func (p *Porkbun) CreateOrUpdateRecord(ctx context.Context, rec Record) UpdateResult {
	result := UpdateResult{Provider: p.Name()}

	existing, err := p.LookupRecord(ctx, rec.Domain, rec.Subdomain)
	if err == nil && existing != "" {
		var resp porkbunResponse
		path := fmt.Sprintf("/dns/editByNameType/%s/CNAME/%s", rec.Domain, rec.Subdomain)
		err := p.post(ctx, path, map[string]any{
			"content": rec.Target,
			"ttl":     strconv.Itoa(rec.TTL),
		}, &resp)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		p.logger.Info("Updated CNAME record",
			zap.String("fqdn", rec.FQDN()),
			zap.String("target", rec.Target),
		)
		result.Success = true
		return result
	}

	var resp porkbunResponse
	err = p.post(ctx, "/dns/create/"+rec.Domain, map[string]any{
		"name":    rec.Subdomain,
		"type":    "CNAME",
		"content": rec.Target,
		"ttl":     strconv.Itoa(rec.TTL),
	}, &resp)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	p.logger.Info("Created CNAME record",
		zap.String("fqdn", rec.FQDN()),
		zap.String("target", rec.Target),
	)
	result.Success = true
	result.RecordID = fmt.Sprintf("%v", resp.ID)
	return result
}

func (p *Porkbun) LookupRecord(ctx context.Context, domain, subdomain string) (string, error) {
	var resp porkbunResponse
	path := fmt.Sprintf("/dns/retrieveByNameType/%s/CNAME/%s", domain, subdomain)
	if err := p.post(ctx, path, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Records) == 0 {
		return "", nil
	}
	return resp.Records[0].Content, nil
}
