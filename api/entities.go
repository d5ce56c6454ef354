package api

import (
	"errors"
	"net/http"

	"github.com/verdantiq/esgbridge/canonical"
	"github.com/verdantiq/esgbridge/id"
)

func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	opts := canonical.EntityListOpts{
		Offset:     queryInt(r, "offset", 0),
		Limit:      queryInt(r, "limit", 50),
		EntityType: queryParam(r, "entity_type"),
	}
	if connParam := queryParam(r, "connector_id"); connParam != "" {
		connID, err := id.ParseConnectorID(connParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid connector ID")
			return
		}
		opts.ConnectorID = &connID
	}
	if approved := queryParam(r, "approved"); approved != "" {
		v := approved == "true"
		opts.Approved = &v
	}

	entities, err := h.store.ListEntities(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, entities)
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	entID, err := id.ParseEntityID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity ID")
		return
	}

	e, getErr := h.store.GetEntity(r.Context(), entID)
	if getErr != nil {
		if errors.Is(getErr, canonical.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, e)
}

type approveEntityRequest struct {
	ApprovedBy string `json:"approved_by"`
}

func (h *Handler) approveEntity(w http.ResponseWriter, r *http.Request) {
	entID, err := id.ParseEntityID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity ID")
		return
	}

	var req approveEntityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, http.StatusBadRequest, "approved_by is required")
		return
	}

	e, approveErr := h.registry.Approve(r.Context(), entID, req.ApprovedBy)
	if approveErr != nil {
		if errors.Is(approveErr, canonical.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, approveErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) unapproveEntity(w http.ResponseWriter, r *http.Request) {
	entID, err := id.ParseEntityID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity ID")
		return
	}

	e, unapproveErr := h.registry.Unapprove(r.Context(), entID)
	if unapproveErr != nil {
		if errors.Is(unapproveErr, canonical.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, unapproveErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, e)
}
