// Package handler adapts the orchestration services onto HTTP. Handlers
// stay thin: decode, call the service, map the fault taxonomy to status
// codes.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/probelab/trialbench/internal/api/middleware"
	"github.com/probelab/trialbench/internal/api/response"
	"github.com/probelab/trialbench/internal/batch"
	"github.com/probelab/trialbench/internal/fault"
	"github.com/probelab/trialbench/internal/launch"
)

// LaunchRun handles POST /api/v1/runs.
func LaunchRun(orch *launch.Orchestrator) http.HandlerFunc {
	type request struct {
		DefinitionID      uuid.UUID  `json:"definition_id"`
		Models            []string   `json:"models"`
		SamplePercentage  int        `json:"sample_percentage"`
		SampleSeed        *int64     `json:"sample_seed"`
		Temperature       *float64   `json:"temperature"`
		Priority          string     `json:"priority"`
		FinalTrial        bool       `json:"final_trial"`
		ExperimentID      *uuid.UUID `json:"experiment_id"`
		PreambleVersionID *uuid.UUID `json:"preamble_version_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required", nil)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body", nil)
			return
		}

		result, err := orch.Launch(r.Context(), launch.Params{
			DefinitionID:      req.DefinitionID,
			Models:            req.Models,
			SamplePercentage:  req.SamplePercentage,
			SampleSeed:        req.SampleSeed,
			Temperature:       req.Temperature,
			Priority:          req.Priority,
			FinalTrial:        req.FinalTrial,
			ExperimentID:      req.ExperimentID,
			PreambleVersionID: req.PreambleVersionID,
			UserID:            userID,
		})
		if err != nil {
			writeFault(w, err)
			return
		}

		response.Created(w, map[string]any{
			"run":       result.Run,
			"job_count": result.JobCount,
		})
	}
}

// RunDomainTrials handles POST /api/v1/domains/{domainID}/trials.
func RunDomainTrials(launcher *batch.Launcher) http.HandlerFunc {
	type request struct {
		Temperature  *float64 `json:"temperature"`
		MaxBudgetUsd *float64 `json:"max_budget_usd"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required", nil)
			return
		}

		domainID, err := uuid.Parse(chi.URLParam(r, "domainID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ID", "Invalid domain id", nil)
			return
		}

		var req request
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body", nil)
				return
			}
		}

		summary, err := launcher.RunTrialsForDomain(r.Context(), domainID, userID, req.Temperature, req.MaxBudgetUsd)
		if err != nil {
			writeFault(w, err)
			return
		}
		response.Accepted(w, summary)
	}
}

// RetryTrialCell handles POST /api/v1/domains/{domainID}/trials/cell.
func RetryTrialCell(launcher *batch.Launcher) http.HandlerFunc {
	type request struct {
		DefinitionID uuid.UUID `json:"definition_id"`
		ModelID      string    `json:"model_id"`
		Temperature  *float64  `json:"temperature"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Authentication required", nil)
			return
		}

		domainID, err := uuid.Parse(chi.URLParam(r, "domainID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ID", "Invalid domain id", nil)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body", nil)
			return
		}

		result, err := launcher.RetryDomainTrialCell(r.Context(), domainID, req.DefinitionID, req.ModelID, req.Temperature, userID)
		if err != nil {
			writeFault(w, err)
			return
		}
		response.Created(w, map[string]any{
			"run":       result.Run,
			"job_count": result.JobCount,
		})
	}
}

// writeFault maps the fault taxonomy onto HTTP status codes.
func writeFault(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, fault.ErrValidation):
		response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", err.Error(), nil)
	case errors.Is(err, fault.ErrConflict):
		response.Error(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, fault.ErrTransient):
		response.Error(w, http.StatusServiceUnavailable, "TRANSIENT", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
