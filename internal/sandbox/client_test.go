package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shaiso/Cascade/internal/steps"
)

func TestClient_RunCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/execute" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Language != "python" {
			t.Errorf("unexpected language: %s", req.Language)
		}

		json.NewEncoder(w).Encode(executeResponse{
			Stdout:   "42\n",
			ExitCode: 0,
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := client.RunCode(context.Background(), &steps.SandboxRequest{
		Language: "python",
		Source:   "print(42)",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Stdout != "42\n" {
		t.Errorf("unexpected stdout: %q", resp.Stdout)
	}
}

func TestClient_SandboxError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(executeResponse{Error: "language not supported"})
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	_, err := client.RunCode(context.Background(), &steps.SandboxRequest{Language: "cobol", Source: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	t.Setenv("CASCADE_SANDBOX_URL", "")
	if _, err := NewClient(""); err == nil {
		t.Error("expected error without URL")
	}
}
