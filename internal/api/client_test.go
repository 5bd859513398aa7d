package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func TestCheckUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req proto.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Username == "taken" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)

	if err := c.CheckUsername(context.Background(), "free"); err != nil {
		t.Fatalf("free username rejected: %v", err)
	}
	if err := c.CheckUsername(context.Background(), "taken"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("want ErrUsernameTaken, got %v", err)
	}
}

func TestFetchUsers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]proto.User{{Username: "alice", IsAvailable: true}})
	}))
	defer srv.Close()

	users, err := New(srv.URL, time.Second).FetchUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("unexpected roster: %+v", users)
	}
}

func TestSetAvailability(t *testing.T) {
	var gotPath string
	var gotBody bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	if err := New(srv.URL, time.Second).SetAvailability(context.Background(), "alice", true); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/users/alice/availability" {
		t.Fatalf("wrong endpoint: %s", gotPath)
	}
	if !gotBody {
		t.Fatal("availability body not delivered")
	}
}
