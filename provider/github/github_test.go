package github

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/go-cmp/cmp"
	"github.com/utilitywarehouse/mirror-discovery/provider"
)

func testRepo(name string, description any) map[string]any {
	return map[string]any{
		"name":        name,
		"description": description,
		"html_url":    "https://github.com/org/" + name,
		"ssh_url":     "git@github.com:org/" + name + ".git",
		"clone_url":   "https://github.com/org/" + name + ".git",
	}
}

func TestGetMirrorRepos(t *testing.T) {
	pages := [][]map[string]any{
		{
			testRepo("foo", "origin: git@example.com:foo/bar.git"),
			testRepo("no-description", nil),
		},
		{
			testRepo("skipped", "origin: https://example.com/foo/bar.git\nskip: true"),
			testRepo("baz", "origin: https://example.com/baz/baz.git"),
		},
	}

	var requests []*http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < len(pages) {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/orgs/org/repos?page=%d>; rel="next", <http://%s/orgs/org/repos?page=%d>; rel="last"`,
				r.Host, page+1, r.Host, len(pages)))
		}
		json.NewEncoder(w).Encode(pages[page-1])
	}))
	defer server.Close()

	g, err := New(Config{URL: server.URL, Organization: "org", Token: "gh-token", UseHTTP: true}, nil)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	got, err := g.GetMirrorRepos()
	if err != nil {
		t.Fatalf("GetMirrorRepos() unexpected error: %v", err)
	}

	want := []provider.Mirror{
		{Origin: "git@example.com:foo/bar.git", Destination: "https://github.com/org/foo.git"},
		{Origin: "https://example.com/baz/baz.git", Destination: "https://github.com/org/baz.git"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetMirrorRepos() mismatch (-want +got):\n%s", diff)
	}

	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	for _, r := range requests {
		if r.URL.Path != "/orgs/org/repos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gh-token" {
			t.Errorf("unexpected Authorization header %q", got)
		}
	}
}

func TestGetMirrorRepos_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"Bad credentials"}`, provider.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{"message":"rate limited"}`, provider.ErrUnexpectedStatus},
		{"malformed", http.StatusOK, `{"message":"not a list"}`, provider.ErrMalformedPage},
		{"missing_field", http.StatusOK, `[{"description":"origin: a@b.c:d/e.git","html_url":"https://github.com/org/e"}]`, provider.ErrMalformedPage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			g, err := New(Config{URL: server.URL, Organization: "org"}, nil)
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}

			got, err := g.GetMirrorRepos()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetMirrorRepos() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != nil {
				t.Errorf("expected no mirrors, got %v", got)
			}
		})
	}
}

func TestGetMirrorRepos_PageLimit(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Link", `<http://example.com/next>; rel="next"`)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	g, err := New(Config{URL: server.URL, Organization: "org", MaxPages: 2}, nil)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	if _, err := g.GetMirrorRepos(); !errors.Is(err, provider.ErrPageLimit) {
		t.Fatalf("GetMirrorRepos() error = %v, want %v", err, provider.ErrPageLimit)
	}
	if requests != 2 {
		t.Errorf("expected 2 requests, got %d", requests)
	}
}

func TestGetMirrorRepos_LastPageAtLimit(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 2 {
			w.Header().Set("Link", `<http://example.com/next>; rel="next"`)
		}
		json.NewEncoder(w).Encode([]map[string]any{testRepo(fmt.Sprintf("r%d", requests), "origin: git@example.com:up/r.git")})
	}))
	defer server.Close()

	g, err := New(Config{URL: server.URL, Organization: "org", MaxPages: 2}, nil)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	got, err := g.GetMirrorRepos()
	if err != nil {
		t.Fatalf("GetMirrorRepos() unexpected error: %v", err)
	}
	if len(got) != 2 || requests != 2 {
		t.Errorf("expected 2 mirrors from 2 requests, got %d mirrors from %d requests", len(got), requests)
	}
}

func writeTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(t.TempDir(), "app.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyPath, pemData, 0600); err != nil {
		t.Fatal(err)
	}
	return key, keyPath
}

func TestGetMirrorRepos_GithubApp(t *testing.T) {
	key, keyPath := writeTestKey(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/installations/42/access_tokens":
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
			if err != nil {
				t.Errorf("unable to parse app jwt: %v", err)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			claims := jwt.Claims{}
			if err := tok.Claims(&key.PublicKey, &claims); err != nil {
				t.Errorf("invalid app jwt signature: %v", err)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if claims.Issuer != "1234" {
				t.Errorf("unexpected jwt issuer %q", claims.Issuer)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"token":      "installation-token",
				"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
		case "/orgs/org/repos":
			if got := r.Header.Get("Authorization"); got != "Bearer installation-token" {
				t.Errorf("unexpected Authorization header %q", got)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode([]map[string]any{testRepo("foo", "origin: git@example.com:foo/bar.git")})
		default:
			t.Errorf("unexpected request %s", r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	g, err := New(Config{
		URL:               server.URL,
		Organization:      "org",
		AppID:             "1234",
		AppInstallationID: "42",
		AppPrivateKeyPath: keyPath,
	}, nil)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	got, err := g.GetMirrorRepos()
	if err != nil {
		t.Fatalf("GetMirrorRepos() unexpected error: %v", err)
	}
	want := []provider.Mirror{
		{Origin: "git@example.com:foo/bar.git", Destination: "git@github.com:org/foo.git"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetMirrorRepos() mismatch (-want +got):\n%s", diff)
	}
}

func Test_loadRSAPrivateKey(t *testing.T) {
	key, pkcs1Path := writeTestKey(t)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8Path := filepath.Join(t.TempDir(), "pkcs8.pem")
	if err := os.WriteFile(pkcs8Path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), 0600); err != nil {
		t.Fatal(err)
	}

	invalidPath := filepath.Join(t.TempDir(), "invalid.pem")
	if err := os.WriteFile(invalidPath, []byte("not a key"), 0600); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{pkcs1Path, pkcs8Path} {
		got, err := loadRSAPrivateKey(path)
		if err != nil {
			t.Fatalf("loadRSAPrivateKey(%s) unexpected error: %v", path, err)
		}
		if !got.Equal(key) {
			t.Errorf("loadRSAPrivateKey(%s) returned different key", path)
		}
	}

	if _, err := loadRSAPrivateKey(invalidPath); err == nil {
		t.Errorf("expected error for invalid key file")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		wantURL string
		wantErr bool
	}{
		{"default_url", Config{Organization: "org"}, defaultAPIURL, false},
		{"enterprise", Config{URL: "https://github.example.com/api/v3/", Organization: "org"}, "https://github.example.com/api/v3", false},
		{"missing_org", Config{}, "", true},
		{"partial_app", Config{Organization: "org", AppID: "1"}, "", true},
		{"negative_pages", Config{Organization: "org", MaxPages: -1}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.conf, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && g.conf.URL != tt.wantURL {
				t.Errorf("New() url = %v, want %v", g.conf.URL, tt.wantURL)
			}
		})
	}
}

func Test_hasNextLink(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"empty", "", false},
		{"next_and_last", `<https://api.github.com/organizations/1/repos?page=2>; rel="next", <https://api.github.com/organizations/1/repos?page=5>; rel="last"`, true},
		{"last_page", `<https://api.github.com/organizations/1/repos?page=1>; rel="prev", <https://api.github.com/organizations/1/repos?page=1>; rel="first"`, false},
		{"only_next", `<https://api.github.com/organizations/1/repos?page=3>;rel="next"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasNextLink(tt.value); got != tt.want {
				t.Errorf("hasNextLink() = %v, want %v", got, tt.want)
			}
		})
	}
}
