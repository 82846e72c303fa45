package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/relayfleet/internal/api/request"
	"github.com/edvin/relayfleet/internal/api/response"
	"github.com/edvin/relayfleet/internal/model"
	"github.com/edvin/relayfleet/internal/nodesync"
)

// SyncService is the agent-facing surface of the sync service.
type SyncService interface {
	RegisterNode(ctx context.Context, nodeID string, info model.AgentInfo) (*model.Registration, error)
	GetDesiredConfig(ctx context.Context, nodeID, presented string) (*nodesync.ConfigResult, error)
	GetDesiredUsers(ctx context.Context, nodeID, presented string) (*nodesync.UsersResult, error)
	ReportTraffic(ctx context.Context, nodeID string, samples []model.TrafficSample) error
	ReportStatus(ctx context.Context, nodeID string, runtime model.NodeRuntime) error
	ReportPresence(ctx context.Context, nodeID string, entries []model.PresenceEntry) (*nodesync.PresenceResult, error)
	ReportEgressIP(ctx context.Context, nodeID, ip string) error
	InvalidateNode(ctx context.Context, nodeID string) error
	OnlinePrincipals(ctx context.Context, nodeID string) ([]model.OnlinePrincipal, error)
	BandwidthStats(ctx context.Context, entity, id string) (model.BandwidthStats, error)
	RecentReports(ctx context.Context, nodeID string, n int) ([]nodesync.RawReport, error)
}

const (
	defaultReportsLimit = 50
	maxReportsLimit     = 500
)

type NodeSync struct {
	svc SyncService
}

func NewNodeSync(svc SyncService) *NodeSync {
	return &NodeSync{svc: svc}
}

type configResponse struct {
	Document *model.DesiredConfig `json:"document"`
	Token    string               `json:"token"`
}

type usersResponse struct {
	Users      []model.DesiredUser `json:"users"`
	RateLimits []model.RateLimit   `json:"rate_limits"`
	Token      string              `json:"token"`
}

type presenceResponse struct {
	Success   bool     `json:"success"`
	KickUsers []string `json:"kick_users"`
}

func (h *NodeSync) Register(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.RegisterNode
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	reg, err := h.svc.RegisterNode(r.Context(), nodeID, req.AgentInfo())
	if err != nil {
		writeServiceError(w, r, err, "failed to register node")
		return
	}
	response.WriteJSON(w, http.StatusOK, reg)
}

// Config serves the node's desired configuration document, or 304 when
// the presented token still matches.
func (h *NodeSync) Config(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.GetDesiredConfig(r.Context(), nodeID, presentedToken(r))
	if err != nil {
		writeServiceError(w, r, err, "failed to build desired config")
		return
	}
	if res.NotModified {
		response.WriteNotModified(w, etag(res.Token))
		return
	}
	w.Header().Set("ETag", etag(res.Token))
	response.WriteJSON(w, http.StatusOK, configResponse{Document: res.Document, Token: res.Token})
}

func (h *NodeSync) Users(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.GetDesiredUsers(r.Context(), nodeID, presentedToken(r))
	if err != nil {
		writeServiceError(w, r, err, "failed to build desired users")
		return
	}
	if res.NotModified {
		response.WriteNotModified(w, etag(res.Token))
		return
	}
	users, limits := res.Users, res.RateLimits
	if users == nil {
		users = []model.DesiredUser{}
	}
	if limits == nil {
		limits = []model.RateLimit{}
	}
	w.Header().Set("ETag", etag(res.Token))
	response.WriteJSON(w, http.StatusOK, usersResponse{Users: users, RateLimits: limits, Token: res.Token})
}

func (h *NodeSync) Traffic(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ReportTraffic
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.ReportTraffic(r.Context(), nodeID, req.Samples); err != nil {
		writeServiceError(w, r, err, "failed to record traffic")
		return
	}
	response.WriteAck(w)
}

func (h *NodeSync) Status(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ReportStatus
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.ReportStatus(r.Context(), nodeID, req.Runtime()); err != nil {
		writeServiceError(w, r, err, "failed to record status")
		return
	}
	response.WriteAck(w)
}

func (h *NodeSync) Presence(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ReportPresence
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.ReportPresence(r.Context(), nodeID, req.Entries)
	if err != nil {
		writeServiceError(w, r, err, "failed to record presence")
		return
	}
	response.WriteJSON(w, http.StatusOK, presenceResponse{Success: true, KickUsers: res.KickUsers})
}

func (h *NodeSync) EgressIP(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.ReportEgressIP
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.ReportEgressIP(r.Context(), nodeID, req.IP); err != nil {
		writeServiceError(w, r, err, "failed to record egress ip")
		return
	}
	response.WriteAck(w)
}

// Invalidate is called by the management layer after it changes anything
// that feeds the node's desired state.
func (h *NodeSync) Invalidate(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.InvalidateNode(r.Context(), nodeID); err != nil {
		writeServiceError(w, r, err, "failed to invalidate node")
		return
	}
	response.WriteAck(w)
}

func (h *NodeSync) Online(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	online, err := h.svc.OnlinePrincipals(r.Context(), nodeID)
	if err != nil {
		writeServiceError(w, r, err, "failed to list online principals")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"principals": online})
}

func (h *NodeSync) Bandwidth(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.svc.BandwidthStats(r.Context(), model.EntityNode, nodeID)
	if err != nil {
		writeServiceError(w, r, err, "failed to read bandwidth")
		return
	}
	response.WriteJSON(w, http.StatusOK, stats)
}

func (h *NodeSync) Reports(w http.ResponseWriter, r *http.Request) {
	nodeID, err := request.RequireID(chi.URLParam(r, "nodeID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := defaultReportsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxReportsLimit)
	}

	reports, err := h.svc.RecentReports(r.Context(), nodeID, limit)
	if err != nil {
		writeServiceError(w, r, err, "failed to read raw reports")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"reports": reports})
}
