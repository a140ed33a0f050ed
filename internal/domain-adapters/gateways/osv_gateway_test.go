package gateways

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func osvStub(t *testing.T, handler http.Handler) *osvGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gateway := NewOSVGateway(nil)
	gateway.apiURL = server.URL
	return gateway
}

func TestOSVGateway_QueryPackage(t *testing.T) {
	gateway := osvStub(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("Failed to read query body: %v", err)
		}
		want := `{"package":{"name":"zlib"},"version":"1.2.11"}`
		if string(body) != want {
			t.Errorf("query body = %s, want %s", body, want)
		}

		fmt.Fprint(w, `{"vulns":[
  {"id":"OSV-2022-0001","summary":"heap overflow in inflate",
   "aliases":["CVE-2022-37434"],
   "database_specific":{"severity":"HIGH"},
   "affected":[{"ranges":[{"type":"ECOSYSTEM","events":[{"introduced":"0"},{"fixed":"1.2.12"}]}]}]},
  {"id":"GHSA-jc36-42cf-vqwj","summary":"memory corruption",
   "database_specific":{"severity":"MODERATE"}}
]}`)
	}))

	vulns, err := gateway.QueryPackage(context.Background(), "zlib", "1.2.11")
	if err != nil {
		t.Fatalf("QueryPackage() error = %v", err)
	}
	if len(vulns) != 2 {
		t.Fatalf("QueryPackage() returned %d findings, want 2", len(vulns))
	}

	// Results come back sorted by advisory ID
	if vulns[0].ID != "GHSA-jc36-42cf-vqwj" || vulns[1].ID != "OSV-2022-0001" {
		t.Errorf("IDs = [%s %s], want ID order", vulns[0].ID, vulns[1].ID)
	}
	if vulns[0].Severity != "MEDIUM" {
		t.Errorf("Severity = %s, want MODERATE normalized to MEDIUM", vulns[0].Severity)
	}
	if vulns[1].Severity != "HIGH" {
		t.Errorf("Severity = %s, want HIGH", vulns[1].Severity)
	}
	if vulns[1].FixedIn != "1.2.12" {
		t.Errorf("FixedIn = %s, want 1.2.12", vulns[1].FixedIn)
	}
	if len(vulns[1].Aliases) != 1 || vulns[1].Aliases[0] != "CVE-2022-37434" {
		t.Errorf("Aliases = %v, want [CVE-2022-37434]", vulns[1].Aliases)
	}
	if vulns[1].Summary != "heap overflow in inflate" {
		t.Errorf("Summary = %q", vulns[1].Summary)
	}
}

func TestOSVGateway_QueryPackage_Clean(t *testing.T) {
	gateway := osvStub(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// OSV answers an empty object when nothing is affected
		fmt.Fprint(w, `{}`)
	}))

	vulns, err := gateway.QueryPackage(context.Background(), "safe-package", "1.0.0")
	if err != nil {
		t.Fatalf("QueryPackage() error = %v", err)
	}
	if len(vulns) != 0 {
		t.Errorf("QueryPackage() returned %d findings, want 0", len(vulns))
	}
}

func TestOSVGateway_QueryPackage_APIError(t *testing.T) {
	gateway := osvStub(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	if _, err := gateway.QueryPackage(context.Background(), "tool", "1.0"); err == nil {
		t.Error("QueryPackage() should surface API errors")
	}
}

func TestOSVGateway_QueryPackage_InvalidJSON(t *testing.T) {
	gateway := osvStub(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "not json")
	}))

	if _, err := gateway.QueryPackage(context.Background(), "tool", "1.0"); err == nil {
		t.Error("QueryPackage() should return error for malformed response")
	}
}

func TestOSVGateway_QueryPackage_ContextCanceled(t *testing.T) {
	gateway := NewOSVGateway(nil)
	gateway.apiURL = "http://127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := gateway.QueryPackage(ctx, "tool", "1.0"); err == nil {
		t.Error("QueryPackage() should return error for canceled context")
	}
}

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CRITICAL", "CRITICAL"},
		{"high", "HIGH"},
		{"MODERATE", "MEDIUM"},
		{"Medium", "MEDIUM"},
		{"LOW", "LOW"},
		{"", "UNKNOWN"},
		{"NONE", "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := normalizeSeverity(tt.in); got != tt.want {
			t.Errorf("normalizeSeverity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
