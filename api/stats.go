package api

import (
	"net/http"

	"github.com/verdantiq/esgbridge/subscription"
)

type statsResponse struct {
	PendingDeliveries     int64 `json:"pending_deliveries"`
	DegradedSubscriptions int   `json:"degraded_subscriptions"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := h.store.CountPending(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	degraded := subscription.StatusDegraded
	degradedSubs, err := h.store.ListSubscriptions(ctx, subscription.ListOpts{Status: &degraded})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		PendingDeliveries:     pending,
		DegradedSubscriptions: len(degradedSubs),
	})
}
