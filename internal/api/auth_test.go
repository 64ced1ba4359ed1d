package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/seantiz/outletwatch/internal/checker/scripted"
)

const testSecret = "test-secret"

func newAuthServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := newTestServerWith(t, scripted.New(scripted.Succeed("Online", 0)), testSecret)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getWithAuth(t *testing.T, url, header string) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	ts := newAuthServer(t)

	valid, err := IssueToken(testSecret, "ops", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, err := IssueToken(testSecret, "ops", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	foreign, err := IssueToken("other-secret", "ops", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getWithAuth(t, ts.URL+"/v1/runs", tt.header); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAuthQueryToken(t *testing.T) {
	ts := newAuthServer(t)
	valid, _ := IssueToken(testSecret, "ops", time.Hour)

	if got := getWithAuth(t, ts.URL+"/v1/checkers?access_token="+valid, ""); got != http.StatusOK {
		t.Errorf("status = %d, want 200", got)
	}
}

func TestAuthOpenEndpoints(t *testing.T) {
	ts := newAuthServer(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		if got := getWithAuth(t, ts.URL+path, ""); got != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, got)
		}
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := ParseToken([]byte(testSecret), signed); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestIssueTokenEmptySecret(t *testing.T) {
	if _, err := IssueToken("", "ops", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
}
