package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/appliance-health/healthd/internal/migration"
	"github.com/appliance-health/healthd/internal/models"
	"github.com/appliance-health/healthd/internal/storage"
)

// Notification channel handlers

func (s *Server) handleGetNotificationChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.db.GetNotificationChannels()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get notification channels: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, channels)
}

func (s *Server) handleExportNotificationChannels(w http.ResponseWriter, r *http.Request) {
	data, err := migration.ExportChannels(s.db)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to export channels: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="healthd-channels.yaml"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleCreateNotificationChannel(w http.ResponseWriter, r *http.Request) {
	var channel models.NotificationChannel
	if err := json.NewDecoder(r.Body).Decode(&channel); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	channel.ID = 0

	if err := s.validateChannel(&channel); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.db.SaveNotificationChannel(&channel); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create notification channel: "+err.Error())
		return
	}

	s.dispatcher.RefreshChannels()
	respondJSON(w, http.StatusCreated, channel)
}

func (s *Server) handleUpdateNotificationChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}

	var channel models.NotificationChannel
	if err := json.NewDecoder(r.Body).Decode(&channel); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	channel.ID = id

	if err := s.validateChannel(&channel); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.db.SaveNotificationChannel(&channel); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Channel not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to update notification channel: "+err.Error())
		return
	}

	s.dispatcher.RefreshChannels()
	respondJSON(w, http.StatusOK, channel)
}

func (s *Server) handleDeleteNotificationChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}

	if err := s.db.DeleteNotificationChannel(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Channel not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to delete notification channel: "+err.Error())
		return
	}

	s.dispatcher.RefreshChannels()
	respondJSON(w, http.StatusOK, map[string]string{"message": "Channel deleted successfully"})
}

func (s *Server) handleTestNotificationChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}

	channel, err := s.db.GetNotificationChannel(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Channel not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to get channel: "+err.Error())
		return
	}

	if err := s.dispatcher.SendTestNotification(r.Context(), id); err != nil {
		respondError(w, http.StatusBadGateway, "Failed to send test notification: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Test notification sent successfully to channel: " + channel.Name,
		"status":  "success",
	})
}

func (s *Server) handleGetDeliveries(w http.ResponseWriter, r *http.Request) {
	logs, err := s.db.GetDeliveryLogs(parseLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get delivery log: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (s *Server) handleGetNotificationStatus(w http.ResponseWriter, r *http.Request) {
	limiter := s.dispatcher.RateLimiter()
	sent, err := s.db.CountDeliveriesSince(time.Now().UTC().Add(-time.Hour))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count deliveries: "+err.Error())
		return
	}
	unread, err := s.db.GetUnreadEventCount()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count events: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"unread_events":        unread,
		"sent_last_hour":       sent,
		"rate_limit_remaining": limiter.Remaining(),
		"rate_limit_reset":     limiter.ResetTime(),
	})
}

func (s *Server) validateChannel(ch *models.NotificationChannel) error {
	switch ch.Type {
	case models.ChannelTypeWebhook, models.ChannelTypeNtfy, models.ChannelTypeInApp:
	default:
		return errors.New("invalid channel type: must be webhook, ntfy, or in_app")
	}
	if ch.Name == "" {
		return errors.New("channel name is required")
	}
	if err := s.dispatcher.ValidateChannel(ch); err != nil {
		return fmt.Errorf("invalid channel config: %w", err)
	}
	return nil
}

func channelID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid channel ID")
		return 0, false
	}
	return id, true
}
