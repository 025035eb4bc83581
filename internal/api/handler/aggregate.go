package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/probelab/trialbench/internal/aggregate"
	"github.com/probelab/trialbench/internal/api/response"
)

// UpdateAggregate handles POST /api/v1/definitions/{definitionID}/aggregate.
func UpdateAggregate(engine *aggregate.Engine) http.HandlerFunc {
	type request struct {
		PreambleVersionID *uuid.UUID `json:"preamble_version_id"`
		DefinitionVersion int        `json:"definition_version"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		definitionID, err := uuid.Parse(chi.URLParam(r, "definitionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ID", "Invalid definition id", nil)
			return
		}

		var req request
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Malformed JSON body", nil)
				return
			}
		}
		if req.DefinitionVersion == 0 {
			req.DefinitionVersion = 1
		}

		if err := engine.UpdateAggregate(r.Context(), definitionID, req.PreambleVersionID, req.DefinitionVersion); err != nil {
			writeFault(w, err)
			return
		}
		response.Accepted(w, map[string]any{"definition_id": definitionID})
	}
}
