package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/graph"
)

type templateRequest struct {
	Name         string `json:"name"`
	CardJSON     string `json:"cardJson"`
	TextFallback string `json:"textFallback"`
}

type templateResponse struct {
	Name         string `json:"name"`
	CardJSON     string `json:"cardJson"`
	TextFallback string `json:"textFallback"`
}

func templateToResponse(tpl *database.MessageTemplate) templateResponse {
	return templateResponse{
		Name:         tpl.Name,
		CardJSON:     tpl.CardJSON,
		TextFallback: tpl.TextFallback,
	}
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.templates.List(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to list templates", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]templateResponse, 0, len(tpls))
	for _, tpl := range tpls {
		out = append(out, templateToResponse(tpl))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) saveTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.templates.Save(r.Context(), req.Name, req.CardJSON, req.TextFallback); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tpl, err := s.templates.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "template not found")
			return
		}
		s.logger.ErrorContext(r.Context(), "Failed to load template", "error", err, "template", name)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, templateToResponse(tpl))
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.templates.Delete(r.Context(), name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "template not found")
			return
		}
		s.logger.ErrorContext(r.Context(), "Failed to delete template", "error", err, "template", name)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type broadcastRequest struct {
	Template        string   `json:"template"`
	ConversationIDs []string `json:"conversationIds"`

	// All sends to every known conversation and ignores ConversationIDs.
	All bool `json:"all"`
}

type broadcastResponse struct {
	Enqueued int `json:"enqueued"`
}

func (s *Server) createBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	convIDs := req.ConversationIDs
	if req.All {
		convs, err := s.store.ListConversations(r.Context())
		if err != nil {
			s.logger.ErrorContext(r.Context(), "Failed to list conversations", "error", err)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		convIDs = make([]string, 0, len(convs))
		for _, c := range convs {
			convIDs = append(convIDs, c.ConversationID)
		}
	}
	if len(convIDs) == 0 {
		respondError(w, http.StatusBadRequest, "no conversations to send to")
		return
	}

	created, err := s.queue.Enqueue(r.Context(), req.Template, convIDs)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "template not found")
			return
		}
		s.logger.ErrorContext(r.Context(), "Failed to enqueue broadcast", "error", err, "template", req.Template)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, _ := UserFromContext(r.Context())
	s.logger.InfoContext(r.Context(), "Broadcast enqueued",
		"template", req.Template, "count", created, "user_id", user.ID)
	respondJSON(w, http.StatusAccepted, broadcastResponse{Enqueued: created})
}

type deliveryResponse struct {
	ID             uint   `json:"id"`
	Template       string `json:"template"`
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"lastError,omitempty"`
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = database.DeliveryQueued
	}
	switch status {
	case database.DeliveryQueued, database.DeliverySent, database.DeliveryFailed, database.DeliveryAbandoned:
	default:
		respondError(w, http.StatusBadRequest, "unknown delivery status")
		return
	}

	rows, err := s.store.ListDeliveriesByStatus(r.Context(), status, 200)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to list deliveries", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]deliveryResponse, 0, len(rows))
	for _, d := range rows {
		out = append(out, deliveryResponse{
			ID:             d.ID,
			Template:       d.TemplateName,
			ConversationID: d.ConversationID,
			Status:         d.Status,
			Attempts:       d.Attempts,
			LastError:      d.LastError.String,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) deliveryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetDeliveryStats(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to load delivery stats", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type conversationResponse struct {
	ConversationID string `json:"conversationId"`
	ChannelID      string `json:"channelId"`
	TenantID       string `json:"tenantId,omitempty"`
	UserName       string `json:"userName,omitempty"`
	UserAadID      string `json:"userAadId,omitempty"`
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "Failed to list conversations", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationResponse{
			ConversationID: c.ConversationID,
			ChannelID:      c.ChannelID,
			TenantID:       c.TenantID,
			UserName:       c.UserName,
			UserAadID:      c.UserAadID,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// listUsers serves the directory roster for the broadcast audience picker.
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	top := int64(50)
	if raw := r.URL.Query().Get("top"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid top parameter")
			return
		}
		top = parsed
	}

	profiles, err := s.graph.ListUsers(r.Context(), int32(top))
	if err != nil {
		if errors.Is(err, graph.ErrDisabled) {
			respondError(w, http.StatusServiceUnavailable, "graph integration is disabled")
			return
		}
		s.logger.ErrorContext(r.Context(), "Failed to list directory users", "error", err)
		respondError(w, http.StatusBadGateway, "directory lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, profiles)
}
