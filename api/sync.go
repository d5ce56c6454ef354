package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/reconcile"
)

type reconcileRequest struct {
	ConnectorID string         `json:"connector_id"`
	ExternalID  string         `json:"external_id"`
	EntityType  string         `json:"entity_type"`
	Data        map[string]any `json:"data"`
	OverrideBy  string         `json:"override_by,omitempty"`
}

func (h *Handler) reconcileRecord(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	connID, err := id.ParseConnectorID(req.ConnectorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	rec, recErr := h.reconciler.Reconcile(r.Context(), reconcile.Input{
		ConnectorID: connID,
		ExternalID:  req.ExternalID,
		EntityType:  req.EntityType,
		Data:        req.Data,
		OverrideBy:  req.OverrideBy,
	})
	if recErr != nil {
		switch {
		case errors.Is(recErr, reconcile.ErrConnectorInactive),
			errors.Is(recErr, reconcile.ErrNoMappings):
			writeError(w, http.StatusConflict, recErr.Error())
		case rec != nil:
			// Infrastructure failure with an audit record appended.
			writeJSON(w, http.StatusInternalServerError, rec)
		default:
			writeError(w, http.StatusBadRequest, recErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) listSyncRecords(w http.ResponseWriter, r *http.Request) {
	opts := reconcile.ListOpts{
		Offset:     queryInt(r, "offset", 0),
		Limit:      queryInt(r, "limit", 50),
		EntityType: queryParam(r, "entity_type"),
		Status:     reconcile.Status(queryParam(r, "status")),
	}
	if connParam := queryParam(r, "connector_id"); connParam != "" {
		connID, err := id.ParseConnectorID(connParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid connector ID")
			return
		}
		opts.ConnectorID = connID
	}
	if from := queryParam(r, "from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
			return
		}
		opts.From = t
	}
	if to := queryParam(r, "to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
			return
		}
		opts.To = t
	}

	records, err := h.reconciler.Records(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) getSyncRecord(w http.ResponseWriter, r *http.Request) {
	recID, err := id.ParseSyncRecordID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sync record ID")
		return
	}

	rec, getErr := h.reconciler.Record(r.Context(), recID)
	if getErr != nil {
		if errors.Is(getErr, reconcile.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "sync record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
