package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Cloudflare talks to the Cloudflare v4 API with a bearer token. Record
// operations are zone-scoped, so the zone id for the domain is looked up
// once and cached for the life of the provider instance.
type Cloudflare struct {
	baseURL  string
	apiToken string
	priority int
	client   *http.Client
	logger   *zap.Logger

	zoneID string // cached after first lookup
}

func NewCloudflare(baseURL, apiToken string, priority int, logger *zap.Logger) *Cloudflare {
	return &Cloudflare{
		baseURL:  baseURL,
		apiToken: apiToken,
		priority: priority,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With(zap.String("provider", "cloudflare")),
	}
}

func (c *Cloudflare) Name() string  { return "cloudflare" }
func (c *Cloudflare) Priority() int { return c.priority }

type cloudflareEnvelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result json.RawMessage `json:"result"`
}

type cloudflareRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

func (c *Cloudflare) do(ctx context.Context, method, path string, body any) (*cloudflareEnvelope, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var envelope cloudflareEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("cloudflare: decode response from %s: %w", path, err)
	}
	if !envelope.Success {
		msg := "unknown error"
		if len(envelope.Errors) > 0 {
			msg = envelope.Errors[0].Message
		}
		return nil, fmt.Errorf("cloudflare: %s %s failed (http %d): %s", method, path, resp.StatusCode, msg)
	}
	return &envelope, nil
}

// zone resolves and caches the zone id for the domain. A domain with no
// matching zone is a configuration error, not a transient failure.
func (c *Cloudflare) zone(ctx context.Context, domain string) (string, error) {
	if c.zoneID != "" {
		return c.zoneID, nil
	}

	envelope, err := c.do(ctx, http.MethodGet, "/zones?name="+url.QueryEscape(domain), nil)
	if err != nil {
		return "", err
	}

	var zones []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(envelope.Result, &zones); err != nil {
		return "", fmt.Errorf("cloudflare: decode zones: %w", err)
	}
	if len(zones) == 0 {
		return "", fmt.Errorf("cloudflare: no zone for %s: %w", domain, ErrZoneNotFound)
	}

	c.zoneID = zones[0].ID
	return c.zoneID, nil
}

func (c *Cloudflare) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	if _, err := c.do(ctx, http.MethodGet, "/user/tokens/verify", nil); err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	return HealthStatus{Healthy: true}
}

func (c *Cloudflare) findRecord(ctx context.Context, zoneID, fqdn string) (*cloudflareRecord, error) {
	path := fmt.Sprintf("/zones/%s/dns_records?type=CNAME&name=%s", zoneID, url.QueryEscape(fqdn))
	envelope, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var records []cloudflareRecord
	if err := json.Unmarshal(envelope.Result, &records); err != nil {
		return nil, fmt.Errorf("cloudflare: decode records: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (c *Cloudflare) CreateOrUpdateRecord(ctx context.Context, rec Record) UpdateResult {
	result := UpdateResult{Provider: c.Name()}

	zoneID, err := c.zone(ctx, rec.Domain)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	fqdn := rec.FQDN()
	existing, err := c.findRecord(ctx, zoneID, fqdn)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	payload := cloudflareRecord{Type: "CNAME", Name: fqdn, Content: rec.Target, TTL: rec.TTL}

	var envelope *cloudflareEnvelope
	if existing != nil {
		envelope, err = c.do(ctx, http.MethodPut, fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, existing.ID), payload)
	} else {
		envelope, err = c.do(ctx, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", zoneID), payload)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	var saved cloudflareRecord
	if err := json.Unmarshal(envelope.Result, &saved); err == nil {
		result.RecordID = saved.ID
	}

	c.logger.Info("Applied CNAME record",
		zap.String("fqdn", fqdn),
		zap.String("target", rec.Target),
		zap.Bool("updated", existing != nil),
	)
	result.Success = true
	return result
}

func (c *Cloudflare) LookupRecord(ctx context.Context, domain, subdomain string) (string, error) {
	zoneID, err := c.zone(ctx, domain)
	if err != nil {
		return "", err
	}
	rec, err := c.findRecord(ctx, zoneID, subdomain+"."+domain)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	return rec.Content, nil
}
