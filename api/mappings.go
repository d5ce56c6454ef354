package api

import (
	"errors"
	"net/http"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/id"
)

type createMappingRequest struct {
	EntityType      string                  `json:"entity_type"`
	SchemaVersion   int                     `json:"schema_version"`
	ExternalField   string                  `json:"external_field"`
	Attribute       string                  `json:"attribute"`
	Transform       canonical.TransformType `json:"transform,omitempty"`
	TransformParams map[string]any          `json:"transform_params,omitempty"`
	Required        bool                    `json:"required,omitempty"`
	Default         any                     `json:"default,omitempty"`
	Priority        int                     `json:"priority,omitempty"`
}

func (h *Handler) createMapping(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	var req createMappingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := canonical.MappingInput{
		ConnectorID:     connID,
		EntityType:      req.EntityType,
		SchemaVersion:   req.SchemaVersion,
		ExternalField:   req.ExternalField,
		Attribute:       req.Attribute,
		Transform:       req.Transform,
		TransformParams: req.TransformParams,
		Required:        req.Required,
		Default:         req.Default,
		Priority:        req.Priority,
	}

	m, createErr := h.registry.CreateMapping(r.Context(), input)
	if createErr != nil {
		switch {
		case errors.Is(createErr, canonical.ErrVersionNotFound):
			writeError(w, http.StatusNotFound, "schema version not found")
		case errors.Is(createErr, canonical.ErrVersionDeprecated),
			errors.Is(createErr, canonical.ErrAttributeNotDeclared):
			writeError(w, http.StatusConflict, createErr.Error())
		default:
			writeError(w, http.StatusBadRequest, createErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	opts := canonical.MappingListOpts{
		EntityType:    queryParam(r, "entity_type"),
		SchemaVersion: queryInt(r, "schema_version", 0),
		ActiveOnly:    queryParam(r, "active") == "true",
	}

	mappings, listErr := h.registry.ListMappings(r.Context(), connID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, mappings)
}

func (h *Handler) setMappingActive(w http.ResponseWriter, r *http.Request, active bool) {
	mapID, err := id.ParseMappingID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mapping ID")
		return
	}

	if setErr := h.registry.SetMappingActive(r.Context(), mapID, active); setErr != nil {
		if errors.Is(setErr, canonical.ErrMappingNotFound) {
			writeError(w, http.StatusNotFound, "mapping not found")
			return
		}
		writeError(w, http.StatusInternalServerError, setErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activateMapping(w http.ResponseWriter, r *http.Request) {
	h.setMappingActive(w, r, true)
}

func (h *Handler) deactivateMapping(w http.ResponseWriter, r *http.Request) {
	h.setMappingActive(w, r, false)
}

func (h *Handler) deleteMapping(w http.ResponseWriter, r *http.Request) {
	mapID, err := id.ParseMappingID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mapping ID")
		return
	}

	if deleteErr := h.registry.DeleteMapping(r.Context(), mapID); deleteErr != nil {
		if errors.Is(deleteErr, canonical.ErrMappingNotFound) {
			writeError(w, http.StatusNotFound, "mapping not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
