package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FlowForge/FlowForge/internal/models"
	"github.com/FlowForge/FlowForge/internal/util"
)

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// flowsHandler handles the flow collection: GET lists, POST creates.
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		flows, err := s.st.ListFlows()
		if err != nil {
			slog.Error("Server.flowsHandler: failed to list flows", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flows"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(flows))

	case http.MethodPost:
		s.saveFlow(w, r, "")

	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

// flowHandler handles /api/flows/{id} and /api/flows/{id}/stats.
func (s *Server) flowHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/flows/")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Missing flow id"))
		return
	}
	flowID := segments[0]

	if len(segments) == 2 && segments[1] == "stats" {
		s.flowStatsHandler(w, r, flowID)
		return
	}
	if len(segments) != 1 {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown flow endpoint"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		flow, err := s.st.GetFlow(flowID)
		if err != nil {
			slog.Error("Server.flowHandler: failed to fetch flow", "error", err, "flow_id", flowID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flow"))
			return
		}
		if flow == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(flow))

	case http.MethodPut:
		s.saveFlow(w, r, flowID)

	case http.MethodDelete:
		if err := s.st.DeleteFlow(flowID); err != nil {
			slog.Error("Server.flowHandler: failed to delete flow", "error", err, "flow_id", flowID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete flow"))
			return
		}
		slog.Info("Flow deleted", "flow_id", flowID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow deleted", nil))

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

// saveFlow decodes, validates and persists a flow. An empty id means create.
func (s *Server) saveFlow(w http.ResponseWriter, r *http.Request, flowID string) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var flow models.FlowDefinition
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		slog.Warn("Server.saveFlow: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	created := flowID == ""
	if created {
		if flow.ID == "" {
			flow.ID = uuid.NewString()
		}
	} else {
		flow.ID = flowID
	}

	if err := flow.Validate(); err != nil {
		slog.Warn("Server.saveFlow: validation failed", "error", err, "flow_id", flow.ID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	now := time.Now()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}
	flow.UpdatedAt = now

	if err := s.st.SaveFlow(flow); err != nil {
		slog.Error("Server.saveFlow: failed to save flow", "error", err, "flow_id", flow.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	slog.Info("Flow saved", "flow_id", flow.ID, "name", flow.Name)
	writeJSONResponse(w, status, models.Success(flow))
}

// flowStatsHandler handles POST /api/flows/{id}/stats.
func (s *Server) flowStatsHandler(w http.ResponseWriter, r *http.Request, flowID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var body struct {
		Metric models.StatMetric `json:"metric"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.st.IncrementFlowStat(flowID, body.Metric); err != nil {
		slog.Warn("Server.flowStatsHandler: increment failed", "error", err, "flow_id", flowID, "metric", body.Metric)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Stat recorded", nil))
}

// testFlowHandler handles POST /api/test-flow: runs a saved flow or an inline
// flow definition against a phone number.
func (s *Server) testFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req struct {
		Phone    string                 `json:"phone"`
		FlowID   string                 `json:"flowId"`
		FlowData *models.FlowDefinition `json:"flowData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Phone == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Phone number is required"))
		return
	}

	phone, err := s.msgService.ValidateAndCanonicalizeRecipient(req.Phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	var flow *models.FlowDefinition
	switch {
	case req.FlowID != "":
		flow, err = s.st.GetFlow(req.FlowID)
		if err != nil {
			slog.Error("Server.testFlowHandler: failed to fetch flow", "error", err, "flow_id", req.FlowID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flow"))
			return
		}
	case req.FlowData != nil:
		temp := *req.FlowData
		temp.ID = util.GenerateTempFlowID()
		temp.Trigger = "test"
		temp.TriggerType = models.TriggerTypeExact
		s.eng.RegisterTempFlow(temp)
		flow = &temp
	}
	if flow == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found or invalid data"))
		return
	}

	payload, err := s.eng.StartFlow(r.Context(), phone, flow)
	if err != nil {
		slog.Error("Server.testFlowHandler: flow start failed", "error", err, "flow_id", flow.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start flow"))
		return
	}
	if payload.IsVisible() {
		if err := s.msgService.SendPayload(r.Context(), phone, payload); err != nil {
			slog.Error("Server.testFlowHandler: failed to send initial message", "error", err, "to", phone)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
			return
		}
	}

	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow started for "+phone, nil))
}

// sendHandler handles POST /api/send: a direct one-off text message.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.To == "" || req.Message == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: to, message"))
		return
	}

	to, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.msgService.SendMessage(r.Context(), to, req.Message); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", to)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	slog.Info("Direct message sent", "to", to)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

// leadsHandler handles GET /api/leads (list) and POST /api/leads (upsert).
func (s *Server) leadsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		leads, err := s.st.ListLeads()
		if err != nil {
			slog.Error("Server.leadsHandler: failed to list leads", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch leads"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(leads))

	case http.MethodPost:
		var lead models.Lead
		if err := json.NewDecoder(r.Body).Decode(&lead); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if lead.Phone == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: phone"))
			return
		}
		now := time.Now()
		if lead.CreatedAt.IsZero() {
			lead.CreatedAt = now
		}
		lead.UpdatedAt = now
		if err := s.st.SaveLead(lead); err != nil {
			slog.Error("Server.leadsHandler: failed to save lead", "error", err, "phone", lead.Phone)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save lead"))
			return
		}
		writeJSONResponse(w, http.StatusCreated, models.Success(lead))

	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

// sessionHandler handles /api/sessions/{phone}: GET inspects the live flow
// session, DELETE clears it.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	phone := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if phone == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Missing phone"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		session := s.eng.Session(phone)
		if session == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No active session"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(session))

	case http.MethodDelete:
		s.eng.ClearSession(phone)
		slog.Info("Session cleared", "phone", phone)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session cleared", nil))

	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

// scheduleBulkHandler handles POST /api/bulk-messages/schedule.
func (s *Server) scheduleBulkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req struct {
		Message       string    `json:"message"`
		Recipients    []string  `json:"recipients"`
		ScheduledTime time.Time `json:"scheduledTime"`
		Personalize   bool      `json:"personalize"`
		AddDelay      *bool     `json:"addDelay"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Message == "" || req.ScheduledTime.IsZero() {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: message, recipients, scheduledTime"))
		return
	}
	if len(req.Recipients) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Recipients must be a non-empty array"))
		return
	}

	// Delay between recipients defaults on.
	addDelay := true
	if req.AddDelay != nil {
		addDelay = *req.AddDelay
	}

	msg := models.ScheduledBulkMessage{
		ID:            uuid.NewString(),
		Message:       req.Message,
		Recipients:    req.Recipients,
		ScheduledTime: req.ScheduledTime,
		Personalize:   req.Personalize,
		AddDelay:      addDelay,
		Status:        models.BulkStatusPending,
		CreatedAt:     time.Now(),
	}
	if err := s.st.SaveBulkMessage(msg); err != nil {
		slog.Error("Server.scheduleBulkHandler: failed to save bulk message", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to schedule message"))
		return
	}

	slog.Info("Bulk message scheduled", "id", msg.ID, "recipients", len(msg.Recipients), "at", msg.ScheduledTime)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Bulk message scheduled successfully", msg))
}

// listBulkHandler handles GET /api/bulk-messages/scheduled: pending only.
func (s *Server) listBulkHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	all, err := s.st.ListBulkMessages()
	if err != nil {
		slog.Error("Server.listBulkHandler: failed to list bulk messages", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch scheduled messages"))
		return
	}
	pending := make([]models.ScheduledBulkMessage, 0, len(all))
	for _, msg := range all {
		if msg.Status == models.BulkStatusPending {
			pending = append(pending, msg)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(pending))
}
