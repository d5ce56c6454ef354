package api

import (
	"errors"
	"net/http"

	esgbridge "github.com/verdantiq/esgbridge"
	"github.com/verdantiq/esgbridge/delivery"
	"github.com/verdantiq/esgbridge/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if status := queryParam(r, "status"); status != "" {
		st := delivery.Status(status)
		opts.Status = &st
	}

	deliveries, listErr := h.store.ListBySubscription(r.Context(), subID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}

func (h *Handler) listEventDeliveries(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	deliveries, listErr := h.store.ListByEvent(r.Context(), evtID)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	dlvID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, getErr := h.store.GetDelivery(r.Context(), dlvID)
	if getErr != nil {
		if errors.Is(getErr, esgbridge.ErrDeliveryNotFound) {
			writeError(w, http.StatusNotFound, "delivery not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// attemptDelivery forces an immediate attempt of a non-terminal delivery,
// ignoring its backoff schedule.
func (h *Handler) attemptDelivery(w http.ResponseWriter, r *http.Request) {
	dlvID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, attemptErr := h.dispatcher.Attempt(r.Context(), dlvID)
	if attemptErr != nil {
		switch {
		case errors.Is(attemptErr, esgbridge.ErrDeliveryNotFound):
			writeError(w, http.StatusNotFound, "delivery not found")
		case errors.Is(attemptErr, esgbridge.ErrDeliveryCompleted):
			writeError(w, http.StatusConflict, "delivery already completed")
		default:
			writeError(w, http.StatusInternalServerError, attemptErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// replayDelivery clones a terminally failed delivery into a fresh pending
// one with a reset attempt counter.
func (h *Handler) replayDelivery(w http.ResponseWriter, r *http.Request) {
	dlvID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, replayErr := h.dispatcher.Replay(r.Context(), dlvID)
	if replayErr != nil {
		if errors.Is(replayErr, esgbridge.ErrDeliveryNotFound) {
			writeError(w, http.StatusNotFound, "delivery not found")
			return
		}
		writeError(w, http.StatusConflict, replayErr.Error())
		return
	}

	writeJSON(w, http.StatusCreated, d)
}
