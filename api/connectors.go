package api

import (
	"errors"
	"net/http"

	esgbridge "github.com/verdantiq/esgbridge"
	"github.com/verdantiq/esgbridge/connector"
	"github.com/verdantiq/esgbridge/id"
)

type connectorRequest struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	Endpoint  string            `json:"endpoint,omitempty"`
	AuthRef   string            `json:"auth_ref,omitempty"`
	RateLimit int               `json:"rate_limit,omitempty"`
	Active    *bool             `json:"active,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) createConnector(w http.ResponseWriter, r *http.Request) {
	var req connectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := connector.Input{
		Name:      req.Name,
		Kind:      connector.Kind(req.Kind),
		Endpoint:  req.Endpoint,
		AuthRef:   req.AuthRef,
		RateLimit: req.RateLimit,
		Active:    req.Active,
		Metadata:  req.Metadata,
	}

	c, err := h.connSvc.Create(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) listConnectors(w http.ResponseWriter, r *http.Request) {
	opts := connector.ListOpts{
		Offset:     queryInt(r, "offset", 0),
		Limit:      queryInt(r, "limit", 50),
		Kind:       connector.Kind(queryParam(r, "kind")),
		ActiveOnly: queryParam(r, "active") == "true",
	}

	connectors, err := h.connSvc.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, connectors)
}

func (h *Handler) getConnector(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	c, getErr := h.connSvc.Get(r.Context(), connID)
	if getErr != nil {
		if errors.Is(getErr, esgbridge.ErrConnectorNotFound) {
			writeError(w, http.StatusNotFound, "connector not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) updateConnector(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	var req connectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := connector.Input{
		Name:      req.Name,
		Kind:      connector.Kind(req.Kind),
		Endpoint:  req.Endpoint,
		AuthRef:   req.AuthRef,
		RateLimit: req.RateLimit,
		Active:    req.Active,
		Metadata:  req.Metadata,
	}

	c, updateErr := h.connSvc.Update(r.Context(), connID, input)
	if updateErr != nil {
		if errors.Is(updateErr, esgbridge.ErrConnectorNotFound) {
			writeError(w, http.StatusNotFound, "connector not found")
			return
		}
		writeError(w, http.StatusInternalServerError, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteConnector(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	if deleteErr := h.connSvc.Delete(r.Context(), connID); deleteErr != nil {
		if errors.Is(deleteErr, esgbridge.ErrConnectorNotFound) {
			writeError(w, http.StatusNotFound, "connector not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
