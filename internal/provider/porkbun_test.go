package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePorkbun implements just enough of the Porkbun v3 API for the provider:
// /ping, /dns/create, /dns/editByNameType, /dns/retrieveByNameType.
type fakePorkbun struct {
	apiKey    string
	secretKey string
	records   map[string]string // subdomain -> target
}

func (f *fakePorkbun) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if body["apikey"] != f.apiKey || body["secretapikey"] != f.secretKey {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"status": "ERROR", "message": "Invalid API key"})
			return
		}

		switch {
		case r.URL.Path == "/ping":
			json.NewEncoder(w).Encode(map[string]string{"status": "SUCCESS", "yourIp": "127.0.0.1"})
		case r.URL.Path == "/dns/create/example.com":
			f.records[body["name"].(string)] = body["content"].(string)
			json.NewEncoder(w).Encode(map[string]any{"status": "SUCCESS", "id": 42})
		case r.URL.Path == "/dns/editByNameType/example.com/CNAME/cal":
			f.records["cal"] = body["content"].(string)
			json.NewEncoder(w).Encode(map[string]string{"status": "SUCCESS"})
		case r.URL.Path == "/dns/retrieveByNameType/example.com/CNAME/cal":
			resp := map[string]any{"status": "SUCCESS", "records": []map[string]string{}}
			if target, ok := f.records["cal"]; ok {
				resp["records"] = []map[string]string{{
					"id": "42", "name": "cal.example.com", "type": "CNAME", "content": target, "ttl": "300",
				}}
			}
			json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"status": "ERROR", "message": "Invalid domain"})
		}
	}
}

func TestPorkbunHealthCheck(t *testing.T) {
	fake := &fakePorkbun{apiKey: "pk", secretKey: "sk", records: map[string]string{}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewPorkbun(srv.URL, "pk", "sk", 1, zap.NewNop())
	status := p.HealthCheck(context.Background())
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
}

func TestPorkbunHealthCheckBadCredentials(t *testing.T) {
	fake := &fakePorkbun{apiKey: "pk", secretKey: "sk", records: map[string]string{}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewPorkbun(srv.URL, "pk", "wrong", 1, zap.NewNop())
	status := p.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Error)
}

func TestPorkbunCreateThenReadBack(t *testing.T) {
	fake := &fakePorkbun{apiKey: "pk", secretKey: "sk", records: map[string]string{}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewPorkbun(srv.URL, "pk", "sk", 1, zap.NewNop())
	rec := Record{Domain: "example.com", Subdomain: "cal", Target: "primary.netlify.app", TTL: 300}

	result := p.CreateOrUpdateRecord(context.Background(), rec)
	require.True(t, result.Success, "create failed: %s", result.Error)

	target, err := p.LookupRecord(context.Background(), "example.com", "cal")
	require.NoError(t, err)
	assert.Equal(t, "primary.netlify.app", target)
}

func TestPorkbunUpdateIsIdempotent(t *testing.T) {
	fake := &fakePorkbun{apiKey: "pk", secretKey: "sk", records: map[string]string{"cal": "old.netlify.app"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewPorkbun(srv.URL, "pk", "sk", 1, zap.NewNop())
	rec := Record{Domain: "example.com", Subdomain: "cal", Target: "secondary.netlify.app", TTL: 300}

	// Existing record must be edited in place, not duplicated.
	result := p.CreateOrUpdateRecord(context.Background(), rec)
	require.True(t, result.Success, "update failed: %s", result.Error)
	assert.Equal(t, "secondary.netlify.app", fake.records["cal"])
	assert.Len(t, fake.records, 1)
}

func TestPorkbunUnknownDomainIsZoneNotFound(t *testing.T) {
	fake := &fakePorkbun{apiKey: "pk", secretKey: "sk", records: map[string]string{}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewPorkbun(srv.URL, "pk", "sk", 1, zap.NewNop())
	_, err := p.LookupRecord(context.Background(), "unknown.org", "cal")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrZoneNotFound)
}
