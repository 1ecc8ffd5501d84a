//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func checkHealthEndpoint(t *testing.T, path string) {
	t.Helper()

	resp := doGet(t, path)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
	}

	body := decodeJSON[healthResponse](t, resp)
	if body.Status != "ok" {
		t.Fatalf("%s: expected status ok, got %q", path, body.Status)
	}
}

func TestLivez(t *testing.T) {
	checkHealthEndpoint(t, "/livez")
}

// Readiness requires postgres and redis to answer pings, so a passing
// /readyz also proves both backing services are reachable from the API.
func TestReadyz(t *testing.T) {
	checkHealthEndpoint(t, "/readyz")
}
