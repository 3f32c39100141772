package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/store"
)

// ExampleRunsHandler_ListRuns shows how to serve the /api/v1/runs endpoint.
func ExampleRunsHandler_ListRuns() {
	repo := &mockRunRepo{
		runs: []store.Run{{
			ID:        uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
			Target:    "jobs.example.com",
			Status:    store.RunAchieved,
			StartedAt: time.Unix(0, 0).UTC(),
			Records:   10,
		}},
	}
	handler := NewRunsHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	var payload struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("returned runs: %d, first: %s (%s)\n", len(payload.Runs), payload.Runs[0]["target"], payload.Runs[0]["status"])
	// Output:
	// returned runs: 1, first: jobs.example.com (achieved)
}
