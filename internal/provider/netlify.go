package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Netlify talks to the Netlify API with a bearer token. Netlify DNS requires
// a dns_zone per domain; if the zone is missing it is created and the
// required nameserver delegation is logged, since delegating at the
// registrar cannot be automated from here. Records have no update call, so
// an in-place update is a delete followed by a create.
type Netlify struct {
	baseURL  string
	token    string
	priority int
	client   *http.Client
	logger   *zap.Logger

	zoneID string // cached after first lookup or creation
}

func NewNetlify(baseURL, token string, priority int, logger *zap.Logger) *Netlify {
	return &Netlify{
		baseURL:  baseURL,
		token:    token,
		priority: priority,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With(zap.String("provider", "netlify")),
	}
}

func (n *Netlify) Name() string  { return "netlify" }
func (n *Netlify) Priority() int { return n.priority }

type netlifyZone struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	DNSServers []string `json:"dns_servers"`
}

type netlifyRecord struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Hostname string `json:"hostname"`
	Value    string `json:"value"`
	TTL      int    `json:"ttl"`
}

func (n *Netlify) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("netlify: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("netlify: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("netlify: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("netlify: %s %s returned status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("netlify: decode response from %s: %w", path, err)
		}
	}
	return nil
}

func (n *Netlify) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	var user struct {
		ID string `json:"id"`
	}
	if err := n.do(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	return HealthStatus{Healthy: true}
}

// zone resolves the dns_zone for the domain, creating it when absent.
func (n *Netlify) zone(ctx context.Context, domain string) (string, error) {
	if n.zoneID != "" {
		return n.zoneID, nil
	}

	var zones []netlifyZone
	if err := n.do(ctx, http.MethodGet, "/dns_zones", nil, &zones); err != nil {
		return "", err
	}
	for _, z := range zones {
		if z.Name == domain {
			n.zoneID = z.ID
			return n.zoneID, nil
		}
	}

	var created netlifyZone
	err := n.do(ctx, http.MethodPost, "/dns_zones", map[string]string{"name": domain}, &created)
	if err != nil {
		return "", fmt.Errorf("netlify: create zone for %s: %w", domain, err)
	}

	// Delegation is a manual registrar-side step; surface the nameservers so
	// the operator can complete it.
	n.logger.Warn("Created DNS zone, nameserver delegation required at registrar",
		zap.String("domain", domain),
		zap.Strings("nameservers", created.DNSServers),
	)
	n.zoneID = created.ID
	return n.zoneID, nil
}

func (n *Netlify) findRecord(ctx context.Context, zoneID, fqdn string) (*netlifyRecord, error) {
	var records []netlifyRecord
	if err := n.do(ctx, http.MethodGet, "/dns_zones/"+zoneID+"/dns_records", nil, &records); err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Type == "CNAME" && records[i].Hostname == fqdn {
			return &records[i], nil
		}
	}
	return nil, nil
}

func (n *Netlify) CreateOrUpdateRecord(ctx context.Context, rec Record) UpdateResult {
	result := UpdateResult{Provider: n.Name()}

	zoneID, err := n.zone(ctx, rec.Domain)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	fqdn := rec.FQDN()
	existing, err := n.findRecord(ctx, zoneID, fqdn)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if existing != nil {
		if existing.Value == rec.Target {
			result.Success = true
			result.RecordID = existing.ID
			return result
		}
		path := fmt.Sprintf("/dns_zones/%s/dns_records/%s", zoneID, existing.ID)
		if err := n.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
			result.Error = err.Error()
			return result
		}
	}

	var created netlifyRecord
	err = n.do(ctx, http.MethodPost, "/dns_zones/"+zoneID+"/dns_records", netlifyRecord{
		Type:     "CNAME",
		Hostname: fqdn,
		Value:    rec.Target,
		TTL:      rec.TTL,
	}, &created)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	n.logger.Info("Applied CNAME record",
		zap.String("fqdn", fqdn),
		zap.String("target", rec.Target),
		zap.Bool("replaced", existing != nil),
	)
	result.Success = true
	result.RecordID = created.ID
	return result
}

func (n *Netlify) LookupRecord(ctx context.Context, domain, subdomain string) (string, error) {
	zoneID, err := n.zone(ctx, domain)
	if err != nil {
		return "", err
	}
	rec, err := n.findRecord(ctx, zoneID, subdomain+"."+domain)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	return rec.Value, nil
}
