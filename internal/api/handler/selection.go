package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/relayfleet/internal/api/request"
	"github.com/edvin/relayfleet/internal/api/response"
	"github.com/edvin/relayfleet/internal/balancer"
)

type NodeSelector interface {
	SelectNode(ctx context.Context, poolID string, opts balancer.Options) (*balancer.Selection, error)
}

type Selection struct {
	selector NodeSelector
}

func NewSelection(selector NodeSelector) *Selection {
	return &Selection{selector: selector}
}

// Select picks a node from the pool for a new allocation. An empty or
// saturated pool is a 200 with a null node and a reason.
func (h *Selection) Select(w http.ResponseWriter, r *http.Request) {
	poolID, err := request.RequireID(chi.URLParam(r, "poolID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.SelectNode
	if err := request.DecodeOptional(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sel, err := h.selector.SelectNode(r.Context(), poolID, balancer.Options{
		ExcludeNodeIDs: req.ExcludeNodeIDs,
		SlotCategory:   req.SlotCategory,
		ClientIP:       req.ClientIP,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to select node")
		return
	}
	response.WriteJSON(w, http.StatusOK, sel)
}
