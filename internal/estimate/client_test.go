package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func plannerServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func TestEstimate_ValidResponse(t *testing.T) {
	defID := uuid.New()
	ts := plannerServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/estimate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["definition_id"] != defID.String() {
			t.Errorf("unexpected definition_id: %v", req["definition_id"])
		}
		if req["sample_percentage"] != float64(100) {
			t.Errorf("unexpected sample_percentage: %v", req["sample_percentage"])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(CostEstimate{
			TotalUsd: 12.5,
			PerModel: []ModelCost{
				{ModelID: "gpt-x", TotalUsd: 8.0},
				{ModelID: "gpt-y", TotalUsd: 4.5},
			},
		})
	})
	defer ts.Close()

	c := NewHTTPClient(ts.URL, 5*time.Second)
	est, err := c.Estimate(context.Background(), defID, []string{"gpt-x", "gpt-y"}, 100, 1)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.TotalUsd != 12.5 {
		t.Errorf("TotalUsd = %v, want 12.5", est.TotalUsd)
	}
	if len(est.PerModel) != 2 {
		t.Errorf("PerModel has %d entries, want 2", len(est.PerModel))
	}
}

func TestPlan_ValidResponse(t *testing.T) {
	ts := plannerServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/plan" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SamplingPlan{TotalJobs: 6})
	})
	defer ts.Close()

	c := NewHTTPClient(ts.URL, 5*time.Second)
	plan, err := c.Plan(context.Background(), uuid.New(), []string{"gpt-x"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.TotalJobs != 6 {
		t.Errorf("TotalJobs = %d, want 6", plan.TotalJobs)
	}
}

func TestPost_NonOKStatusIsRejected(t *testing.T) {
	ts := plannerServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown definition", http.StatusUnprocessableEntity)
	})
	defer ts.Close()

	c := NewHTTPClient(ts.URL, 5*time.Second)
	_, err := c.Plan(context.Background(), uuid.New(), []string{"gpt-x"})
	if !errors.Is(err, ErrPlannerRejected) {
		t.Errorf("expected ErrPlannerRejected, got %v", err)
	}
}

func TestPost_UnreachableServer(t *testing.T) {
	ts := plannerServer(t, func(w http.ResponseWriter, r *http.Request) {})
	ts.Close()

	c := NewHTTPClient(ts.URL, time.Second)
	_, err := c.Estimate(context.Background(), uuid.New(), []string{"gpt-x"}, 100, 1)
	if !errors.Is(err, ErrPlannerUnreachable) {
		t.Errorf("expected ErrPlannerUnreachable, got %v", err)
	}
}

func TestPost_ContextCancelled(t *testing.T) {
	ts := plannerServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewHTTPClient(ts.URL, 5*time.Second)
	_, err := c.Plan(ctx, uuid.New(), []string{"gpt-x"})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
