package verify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/likexian/whois"
	"github.com/miekg/dns"
)

// CheckResult is the outcome of one verification dimension in one cycle.
type CheckResult struct {
	Name         string        `json:"name"`
	Passed       bool          `json:"passed"`
	Weight       int           `json:"weight"`
	Detail       string        `json:"detail,omitempty"`
	Error        string        `json:"error,omitempty"`
	ResponseTime time.Duration `json:"response_time_ms"`
}

// Target identifies the record under verification.
type Target struct {
	Domain    string `json:"domain"`
	Subdomain string `json:"subdomain"`
	Expected  string `json:"expected"`
}

func (t Target) FQDN() string {
	if t.Subdomain == "" {
		return t.Domain
	}
	return t.Subdomain + "." + t.Domain
}

func normalizeCNAME(v string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(v)), ".")
}

// checkLocalDNS resolves the CNAME through the host's default resolver.
func (v *Verifier) checkLocalDNS(ctx context.Context, target Target) CheckResult {
	result := CheckResult{Name: "local_dns", Weight: 1}

	ctx, cancel := context.WithTimeout(ctx, v.probeTimeout)
	defer cancel()

	start := time.Now()
	cname, err := net.DefaultResolver.LookupCNAME(ctx, target.FQDN())
	result.ResponseTime = time.Since(start)

	if err != nil {
		result.Error = fmt.Sprintf("CNAME lookup failed: %v", err)
		return result
	}

	result.Detail = cname
	result.Passed = normalizeCNAME(cname) == normalizeCNAME(target.Expected)
	if !result.Passed {
		result.Error = fmt.Sprintf("resolved to %s, expected %s", cname, target.Expected)
	}
	return result
}

// checkResolvers queries every configured public resolver directly and
// passes when at least the configured share of them already see the expected
// target. Propagation is partial by nature, so unanimity is never required.
func (v *Verifier) checkResolvers(ctx context.Context, target Target) CheckResult {
	result := CheckResult{Name: "public_resolvers", Weight: 1}

	client := new(dns.Client)
	client.Timeout = v.probeTimeout

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(target.FQDN()), dns.TypeCNAME)

	start := time.Now()
	agreed := 0
	var details []string
	for _, resolver := range v.resolvers {
		r, _, err := client.ExchangeContext(ctx, m, resolver)
		if err != nil {
			details = append(details, fmt.Sprintf("%s: %v", resolver, err))
			continue
		}
		if r.Rcode != dns.RcodeSuccess {
			details = append(details, fmt.Sprintf("%s: %s", resolver, dns.RcodeToString[r.Rcode]))
			continue
		}

		matched := false
		for _, ans := range r.Answer {
			if cname, ok := ans.(*dns.CNAME); ok {
				if normalizeCNAME(cname.Target) == normalizeCNAME(target.Expected) {
					matched = true
				}
				details = append(details, fmt.Sprintf("%s: %s", resolver, cname.Target))
			}
		}
		if matched {
			agreed++
		}
	}
	result.ResponseTime = time.Since(start)
	result.Detail = fmt.Sprintf("%d/%d resolvers agree; %s", agreed, len(v.resolvers), strings.Join(details, ", "))

	if len(v.resolvers) == 0 {
		result.Error = "no resolvers configured"
		return result
	}

	ratio := float64(agreed) / float64(len(v.resolvers))
	result.Passed = ratio >= v.resolverQuorum
	if !result.Passed {
		result.Error = fmt.Sprintf("only %d of %d resolvers see %s", agreed, len(v.resolvers), target.Expected)
	}
	return result
}

type dohAnswer struct {
	Status int `json:"Status"`
	Answer []struct {
		Name string `json:"name"`
		Type int    `json:"type"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// checkDoH queries the configured DNS-over-HTTPS services (Google and
// Cloudflare JSON APIs by default) and passes when any of them returns the
// expected CNAME.
func (v *Verifier) checkDoH(ctx context.Context, target Target) CheckResult {
	result := CheckResult{Name: "doh", Weight: 1}

	start := time.Now()
	var details []string
	for _, endpoint := range v.dohEndpoints {
		u := fmt.Sprintf("%s?name=%s&type=CNAME", endpoint, url.QueryEscape(target.FQDN()))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			details = append(details, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}
		req.Header.Set("Accept", "application/dns-json")

		resp, err := v.httpClient.Do(req)
		if err != nil {
			details = append(details, fmt.Sprintf("%s: %v", endpoint, err))
			continue
		}

		var answer dohAnswer
		err = json.NewDecoder(resp.Body).Decode(&answer)
		resp.Body.Close()
		if err != nil {
			details = append(details, fmt.Sprintf("%s: decode: %v", endpoint, err))
			continue
		}

		for _, a := range answer.Answer {
			if a.Type == int(dns.TypeCNAME) {
				details = append(details, fmt.Sprintf("%s: %s", endpoint, a.Data))
				if normalizeCNAME(a.Data) == normalizeCNAME(target.Expected) {
					result.Passed = true
				}
			}
		}
	}
	result.ResponseTime = time.Since(start)
	result.Detail = strings.Join(details, ", ")
	if !result.Passed {
		result.Error = fmt.Sprintf("no DoH service returned %s", target.Expected)
	}
	return result
}

// checkHTTP verifies the subdomain answers over HTTPS.
func (v *Verifier) checkHTTP(ctx context.Context, target Target) CheckResult {
	result := CheckResult{Name: "http", Weight: 1}

	u := v.httpBase
	if u == "" {
		u = "https://" + target.FQDN()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		result.Error = fmt.Sprintf("Failed to create request: %v", err)
		return result
	}

	start := time.Now()
	resp, err := v.httpClient.Do(req)
	result.ResponseTime = time.Since(start)

	if err != nil {
		result.Error = fmt.Sprintf("Request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.Detail = fmt.Sprintf("status %d", resp.StatusCode)
	result.Passed = resp.StatusCode >= 200 && resp.StatusCode < 400
	if !result.Passed {
		result.Error = fmt.Sprintf("Unexpected status code: %d", resp.StatusCode)
	}
	return result
}

// checkSSL connects with TLS and validates the served certificate covers the
// subdomain and is inside its validity window.
func (v *Verifier) checkSSL(ctx context.Context, target Target) CheckResult {
	result := CheckResult{Name: "ssl", Weight: 1}

	addr := v.sslAddr
	hostname := target.FQDN()
	if addr == "" {
		addr = hostname + ":443"
	}

	dialer := &net.Dialer{Timeout: v.probeTimeout}

	start := time.Now()
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
		ServerName:         hostname,
		InsecureSkipVerify: v.sslInsecure,
	})
	result.ResponseTime = time.Since(start)

	if err != nil {
		result.Error = fmt.Sprintf("SSL connection failed: %v", err)
		return result
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		result.Error = "No certificates found"
		return result
	}

	cert := certs[0]
	now := time.Now()
	if now.Before(cert.NotBefore) {
		result.Error = "Certificate not yet valid"
		return result
	}
	if now.After(cert.NotAfter) {
		result.Error = "Certificate has expired"
		return result
	}

	daysUntilExpiry := int(cert.NotAfter.Sub(now).Hours() / 24)
	result.Detail = fmt.Sprintf("issuer %s, expires in %d days", cert.Issuer.CommonName, daysUntilExpiry)
	result.Passed = true
	return result
}

// checkWhois confirms the apex domain registration has not lapsed. It is
// informational (weight 0): an expired registration explains every other
// failure but is not itself a propagation signal.
func (v *Verifier) checkWhois(ctx context.Context, target Target) CheckResult {
	result := CheckResult{Name: "whois", Weight: 0}

	if err := ctx.Err(); err != nil {
		result.Error = fmt.Sprintf("WHOIS lookup failed: %v", err)
		return result
	}

	client := whois.NewClient()
	client.SetTimeout(v.probeTimeout)

	start := time.Now()
	raw, err := client.Whois(target.Domain)
	result.ResponseTime = time.Since(start)

	if err != nil {
		result.Error = fmt.Sprintf("WHOIS lookup failed: %v", err)
		return result
	}

	expiry := extractExpiryDate(raw)
	if expiry.IsZero() {
		result.Detail = "registration data found, expiry not parseable"
		result.Passed = true
		return result
	}

	result.Detail = fmt.Sprintf("registration expires %s", expiry.Format("2006-01-02"))
	if time.Now().After(expiry) {
		result.Error = "Domain registration has expired"
		return result
	}
	result.Passed = true
	return result
}

func extractExpiryDate(raw string) time.Time {
	patterns := []string{
		"Registry Expiry Date:",
		"Expiration Date:",
		"Expiry Date:",
		"paid-till:",
	}
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02-Jan-2006",
	}

	for _, line := range strings.Split(raw, "\n") {
		for _, pattern := range patterns {
			idx := strings.Index(line, pattern)
			if idx < 0 {
				continue
			}
			value := strings.TrimSpace(line[idx+len(pattern):])
			for _, format := range formats {
				if t, err := time.Parse(format, value); err == nil {
					return t
				}
			}
		}
	}
	return time.Time{}
}
