package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	esgbridge "github.com/verdantiq/esgbridge"
	"github.com/verdantiq/esgbridge/canonical"
)

type createVersionRequest struct {
	Version                int                   `json:"version"`
	BackwardCompatibleWith *int                  `json:"backward_compatible_with,omitempty"`
	Attributes             []canonical.Attribute `json:"attributes"`
	Schema                 json.RawMessage       `json:"schema,omitempty"`
}

func (h *Handler) createSchemaVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := canonical.VersionInput{
		EntityType:             r.PathValue("entityType"),
		Version:                req.Version,
		BackwardCompatibleWith: req.BackwardCompatibleWith,
		Attributes:             req.Attributes,
		Schema:                 req.Schema,
	}

	v, err := h.registry.CreateVersion(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, canonical.ErrNonMonotonicVersion):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, esgbridge.ErrSchemaVersionNotFound):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) listSchemaVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.registry.ListVersions(r.Context(), r.PathValue("entityType"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, versions)
}

func (h *Handler) getSchemaVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version number")
		return
	}

	v, getErr := h.registry.GetVersion(r.Context(), r.PathValue("entityType"), version)
	if getErr != nil {
		if errors.Is(getErr, esgbridge.ErrSchemaVersionNotFound) {
			writeError(w, http.StatusNotFound, "schema version not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) deprecateSchemaVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version number")
		return
	}

	if depErr := h.registry.DeprecateVersion(r.Context(), r.PathValue("entityType"), version); depErr != nil {
		if errors.Is(depErr, esgbridge.ErrSchemaVersionNotFound) {
			writeError(w, http.StatusNotFound, "schema version not found")
			return
		}
		writeError(w, http.StatusInternalServerError, depErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type compatibilityResponse struct {
	EntityType string `json:"entity_type"`
	From       int    `json:"from"`
	To         int    `json:"to"`
	Compatible bool   `json:"compatible"`
}

// checkCompatibility reports whether the "to" version can replace the
// "from" version through its backward compatibility chain.
func (h *Handler) checkCompatibility(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.Atoi(queryParam(r, "from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "'from' query parameter must be a version number")
		return
	}
	to, err := strconv.Atoi(queryParam(r, "to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "'to' query parameter must be a version number")
		return
	}

	entityType := r.PathValue("entityType")
	compatible, checkErr := h.registry.ValidateBackwardCompatibility(r.Context(), entityType, from, to)
	if checkErr != nil {
		if errors.Is(checkErr, esgbridge.ErrSchemaVersionNotFound) {
			writeError(w, http.StatusNotFound, "schema version not found")
			return
		}
		writeError(w, http.StatusInternalServerError, checkErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, compatibilityResponse{
		EntityType: entityType,
		From:       from,
		To:         to,
		Compatible: compatible,
	})
}
