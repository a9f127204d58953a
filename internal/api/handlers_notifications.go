package api

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Gatherr/internal/notifier"
)

func (s *RESTServer) getNotifications(c *gin.Context) {
	configs, err := s.notifier.GetAllConfigs()
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, configs)
}

func (s *RESTServer) getNotification(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	cfg, err := s.notifier.GetConfig(id)
	if err != nil {
		if err == sql.ErrNoRows {
			respondNotFound(c, "Notification")
			return
		}
		respondDatabaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *RESTServer) createNotification(c *gin.Context) {
	var cfg notifier.NotificationConfig
	if err := c.BindJSON(&cfg); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	if cfg.Name == "" || cfg.ProviderType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and provider_type are required"})
		return
	}

	id, err := s.notifier.CreateConfig(&cfg)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}

	cfg.ID = id
	c.JSON(http.StatusCreated, cfg)
}

func (s *RESTServer) updateNotification(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	var cfg notifier.NotificationConfig
	if err := c.BindJSON(&cfg); err != nil {
		respondBadRequest(c, err, true)
		return
	}
	cfg.ID = id

	if err := s.notifier.UpdateConfig(&cfg); err != nil {
		respondDatabaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *RESTServer) deleteNotification(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	if err := s.notifier.DeleteConfig(id); err != nil {
		respondDatabaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification deleted"})
}

// testNotification sends a test message through a provider config without
// saving it.
func (s *RESTServer) testNotification(c *gin.Context) {
	var cfg notifier.NotificationConfig
	if err := c.BindJSON(&cfg); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	if err := s.notifier.SendTestNotification(&cfg); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test notification sent"})
}

func (s *RESTServer) getNotificationEvents(c *gin.Context) {
	c.JSON(http.StatusOK, notifier.GetEventGroups())
}

func (s *RESTServer) getNotificationLog(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := s.notifier.GetNotificationLog(id, limit)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
