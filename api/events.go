package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	esgbridge "github.com/verdantiq/esgbridge"
	"github.com/verdantiq/esgbridge/event"
	"github.com/verdantiq/esgbridge/id"
)

type publishEventRequest struct {
	Type           string          `json:"type"`
	EntityType     string          `json:"entity_type,omitempty"`
	EntityID       string          `json:"entity_id,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	Data           json.RawMessage `json:"data"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	evt := &event.Event{
		Type:           req.Type,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		CorrelationID:  req.CorrelationID,
		Data:           req.Data,
		IdempotencyKey: req.IdempotencyKey,
	}

	if err := h.bridge.Publish(r.Context(), evt); err != nil {
		if errors.Is(err, esgbridge.ErrUnknownEventType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, evt)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	opts := event.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Type:   queryParam(r, "type"),
	}
	if from := queryParam(r, "from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
			return
		}
		opts.From = &t
	}
	if to := queryParam(r, "to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
			return
		}
		opts.To = &t
	}

	events, err := h.store.ListEvents(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.store.GetEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, esgbridge.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}
