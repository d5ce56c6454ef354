package api

import (
	"errors"
	"net/http"

	esgbridge "github.com/verdantiq/esgbridge"
	"github.com/verdantiq/esgbridge/id"
	"github.com/verdantiq/esgbridge/subscription"
)

type createSubscriptionRequest struct {
	Name        string                    `json:"name"`
	URL         string                    `json:"url"`
	Description string                    `json:"description,omitempty"`
	EventTypes  []string                  `json:"event_types"`
	RetryPolicy *subscription.RetryPolicy `json:"retry_policy,omitempty"`
	Headers     map[string]string         `json:"headers,omitempty"`
	RateLimit   int                       `json:"rate_limit,omitempty"`
	Metadata    map[string]string         `json:"metadata,omitempty"`
}

// createSubscriptionResponse carries the signing secret exactly once, at
// creation time. The secret is never readable afterwards.
type createSubscriptionResponse struct {
	*subscription.Subscription
	Secret string `json:"secret"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := subscription.Input{
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  req.EventTypes,
		RetryPolicy: req.RetryPolicy,
		Headers:     req.Headers,
		RateLimit:   req.RateLimit,
		Metadata:    req.Metadata,
	}

	sub, err := h.subSvc.Create(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createSubscriptionResponse{
		Subscription: sub,
		Secret:       sub.Secret,
	})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	opts := subscription.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if status := queryParam(r, "status"); status != "" {
		st := subscription.Status(status)
		opts.Status = &st
	}

	subs, err := h.subSvc.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, getErr := h.subSvc.Get(r.Context(), subID)
	if getErr != nil {
		if errors.Is(getErr, esgbridge.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := subscription.Input{
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
		EventTypes:  req.EventTypes,
		RetryPolicy: req.RetryPolicy,
		Headers:     req.Headers,
		RateLimit:   req.RateLimit,
		Metadata:    req.Metadata,
	}

	sub, updateErr := h.subSvc.Update(r.Context(), subID, input)
	if updateErr != nil {
		if errors.Is(updateErr, esgbridge.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if deleteErr := h.subSvc.Delete(r.Context(), subID); deleteErr != nil {
		if errors.Is(deleteErr, esgbridge.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) verifySubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, verifyErr := h.subSvc.Verify(r.Context(), subID)
	if verifyErr != nil {
		switch {
		case errors.Is(verifyErr, esgbridge.ErrSubscriptionNotFound):
			writeError(w, http.StatusNotFound, "subscription not found")
		case errors.Is(verifyErr, esgbridge.ErrInvalidTransition):
			writeError(w, http.StatusConflict, verifyErr.Error())
		default:
			writeError(w, http.StatusBadGateway, verifyErr.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// lifecycle applies one of the subscription state machine operations.
func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op func(r *http.Request, subID id.ID) error) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if opErr := op(r, subID); opErr != nil {
		switch {
		case errors.Is(opErr, esgbridge.ErrSubscriptionNotFound):
			writeError(w, http.StatusNotFound, "subscription not found")
		case errors.Is(opErr, esgbridge.ErrInvalidTransition):
			writeError(w, http.StatusConflict, opErr.Error())
		default:
			writeError(w, http.StatusInternalServerError, opErr.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseSubscription(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(r *http.Request, subID id.ID) error {
		return h.subSvc.Pause(r.Context(), subID)
	})
}

func (h *Handler) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(r *http.Request, subID id.ID) error {
		return h.subSvc.Resume(r.Context(), subID)
	})
}

func (h *Handler) disableSubscription(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(r *http.Request, subID id.ID) error {
		return h.subSvc.Disable(r.Context(), subID)
	})
}

func (h *Handler) reactivateSubscription(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(r *http.Request, subID id.ID) error {
		return h.subSvc.Reactivate(r.Context(), subID)
	})
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	newSecret, rotateErr := h.subSvc.RotateSecret(r.Context(), subID)
	if rotateErr != nil {
		if errors.Is(rotateErr, esgbridge.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, rotateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": newSecret})
}
