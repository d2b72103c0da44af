package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/appliance-health/healthd/internal/auth"
	"github.com/appliance-health/healthd/internal/bus"
	"github.com/appliance-health/healthd/internal/logging"
	"github.com/appliance-health/healthd/internal/models"
	"github.com/appliance-health/healthd/internal/monitor"
	"github.com/appliance-health/healthd/internal/notifications"
	"github.com/appliance-health/healthd/internal/rules"
	"github.com/appliance-health/healthd/internal/storage"
	"github.com/appliance-health/healthd/internal/version"
)

const (
	defaultLimit = 100
	maxStateBody = 8 << 20
)

// Server handles HTTP requests
type Server struct {
	db         *storage.DB
	monitor    *monitor.Monitor
	dispatcher *notifications.Dispatcher
	registry   *rules.Registry
	gatherer   prometheus.Gatherer
	auth       models.AuthConfig
	router     *mux.Router
	logger     *zap.SugaredLogger
}

// Deps bundles the collaborators the API serves.
type Deps struct {
	DB         *storage.DB
	Monitor    *monitor.Monitor
	Dispatcher *notifications.Dispatcher
	Registry   *rules.Registry
	Gatherer   prometheus.Gatherer
	Auth       models.AuthConfig
}

// New creates a new API server
func New(deps Deps) *Server {
	s := &Server{
		db:         deps.DB,
		monitor:    deps.Monitor,
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		gatherer:   deps.Gatherer,
		auth:       deps.Auth,
		router:     mux.NewRouter(),
		logger:     logging.For("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health and metrics stay outside auth
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(auth.BasicAuthMiddleware(s.auth))

	// System state endpoints
	api.HandleFunc("/state", s.handleIngestState).Methods("POST")
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/components/states", s.handleGetComponentStates).Methods("GET")

	// Rule endpoints
	api.HandleFunc("/rules", s.handleGetRules).Methods("GET")

	// Event endpoints
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/events/unread/count", s.handleGetUnreadCount).Methods("GET")
	api.HandleFunc("/events/{id}/read", s.handleMarkEventRead).Methods("POST")

	// Notification endpoints
	api.HandleFunc("/notifications/channels", s.handleGetNotificationChannels).Methods("GET")
	api.HandleFunc("/notifications/channels", s.handleCreateNotificationChannel).Methods("POST")
	api.HandleFunc("/notifications/channels/export", s.handleExportNotificationChannels).Methods("GET")
	api.HandleFunc("/notifications/channels/{id}", s.handleUpdateNotificationChannel).Methods("PUT")
	api.HandleFunc("/notifications/channels/{id}", s.handleDeleteNotificationChannel).Methods("DELETE")
	api.HandleFunc("/notifications/channels/{id}/test", s.handleTestNotificationChannel).Methods("POST")
	api.HandleFunc("/notifications/deliveries", s.handleGetDeliveries).Methods("GET")
	api.HandleFunc("/notifications/status", s.handleGetNotificationStatus).Methods("GET")
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// System state handlers

func (s *Server) handleIngestState(w http.ResponseWriter, r *http.Request) {
	var state models.SystemState
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStateBody)).Decode(&state); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid system state: "+err.Error())
		return
	}
	if state.CollectedAt.IsZero() {
		respondError(w, http.StatusBadRequest, "System state requires collected_at")
		return
	}

	if err := s.monitor.Ingest(&state); err != nil {
		if errors.Is(err, monitor.ErrStaleState) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		// The state was still retained; the caller learns the cycle was incomplete.
		s.logger.Warnf("Cycle for state collected at %s failed: %v", state.CollectedAt.Format(time.RFC3339), err)
		respondError(w, http.StatusInternalServerError, "System state evaluated with errors: "+err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":       "evaluated",
		"collected_at": state.CollectedAt,
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state := s.monitor.Previous()
	if state == nil {
		respondError(w, http.StatusNotFound, "No system state received yet")
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetComponentStates(w http.ResponseWriter, r *http.Request) {
	component := models.ComponentName(r.URL.Query().Get("component"))
	records, err := s.db.GetComponentStates(component)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get component states: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// Rule handlers

type ruleInfo struct {
	Type        rules.Type           `json:"type"`
	Component   models.ComponentName `json:"component"`
	ChangeTopic string               `json:"change_topic"`
	Enabled     bool                 `json:"enabled"`
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	list := s.registry.Rules()
	out := make([]ruleInfo, 0, len(list))
	for _, rule := range list {
		out = append(out, ruleInfo{
			Type:        rule.Type,
			Component:   rule.ComponentName,
			ChangeTopic: rule.ChangeTopic,
			Enabled:     rule.Enabled,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules":              out,
		"validate_all_topic": bus.TopicValidateAll,
	})
}

// Event handlers

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	unreadOnly := r.URL.Query().Get("unread") == "true"

	logs, err := s.db.GetEvents(limit, unreadOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get events: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (s *Server) handleGetUnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.db.GetUnreadEventCount()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count events: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (s *Server) handleMarkEventRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.db.MarkEventRead(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Event not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to mark event as read: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Event marked as read"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.db.Ping(); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	build := version.Build()
	respondJSON(w, code, map[string]string{
		"status":     status,
		"version":    build.Version,
		"commit":     build.Commit,
		"go_version": build.GoVersion,
		"time":       time.Now().Format(time.RFC3339),
	})
}

// Helper functions

func parseLimit(r *http.Request) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		return l
	}
	return defaultLimit
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.For("api").Warnf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
