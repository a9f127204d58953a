package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Gatherr/internal/domain"
	"github.com/mescon/Gatherr/internal/logger"
)

func (s *RESTServer) getDownloadStatus(c *gin.Context) {
	status, err := s.nzbget.Status(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "nzbget", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *RESTServer) getDownloadQueue(c *gin.Context) {
	groups, err := s.nzbget.ListGroups(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "nzbget", err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (s *RESTServer) getDownloadHistory(c *gin.Context) {
	hidden := c.Query("hidden") == "true"

	history, err := s.nzbget.History(c.Request.Context(), hidden)
	if err != nil {
		respondUpstreamError(c, "nzbget", err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// queueDownload hands an NZB to the download client, either by URL or as
// base64-encoded file content. Exactly one of url/content must be set.
func (s *RESTServer) queueDownload(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		URL      string `json:"url"`
		Content  string `json:"content"` // base64-encoded NZB file
		Category string `json:"category"`
		Priority int    `json:"priority"`
	}
	if err := c.BindJSON(&req); err != nil {
		respondBadRequest(c, err, true)
		return
	}
	if (req.URL == "") == (req.Content == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of url or content is required"})
		return
	}

	ctx := c.Request.Context()
	var queueID int64
	var err error
	if req.URL != "" {
		queueID, err = s.nzbget.AppendURL(ctx, req.Name, req.URL, req.Category, req.Priority)
	} else {
		var content []byte
		content, err = base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content must be base64-encoded"})
			return
		}
		queueID, err = s.nzbget.AppendContent(ctx, req.Name, content, req.Category, req.Priority)
	}

	data := domain.DownloadEventData{
		Service:  "nzbget",
		Title:    req.Name,
		QueueID:  queueID,
		Category: req.Category,
	}

	if err != nil {
		data.Error = err.Error()
		s.publishEvent(domain.Event{
			AggregateType: "download",
			AggregateID:   req.Name,
			EventType:     domain.DownloadFailed,
			EventData:     data.ToMap(),
		})
		respondUpstreamError(c, "nzbget", err)
		return
	}

	s.publishEvent(domain.Event{
		AggregateType: "download",
		AggregateID:   strconv.FormatInt(queueID, 10),
		EventType:     domain.DownloadQueued,
		EventData:     data.ToMap(),
	})

	c.JSON(http.StatusCreated, gin.H{"queue_id": queueID, "name": req.Name})
}

func (s *RESTServer) pauseDownloads(c *gin.Context) {
	if err := s.nzbget.PauseDownload(c.Request.Context()); err != nil {
		respondUpstreamError(c, "nzbget", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Downloads paused"})
}

func (s *RESTServer) resumeDownloads(c *gin.Context) {
	if err := s.nzbget.ResumeDownload(c.Request.Context()); err != nil {
		respondUpstreamError(c, "nzbget", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Downloads resumed"})
}

func (s *RESTServer) editDownloadQueue(c *gin.Context) {
	var req struct {
		Command string  `json:"command" binding:"required"`
		Param   string  `json:"param"`
		IDs     []int64 `json:"ids" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		respondBadRequest(c, err, true)
		return
	}
	if len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids must not be empty"})
		return
	}

	if err := s.nzbget.EditQueue(c.Request.Context(), req.Command, req.Param, req.IDs); err != nil {
		respondUpstreamError(c, "nzbget", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Queue updated", "ids": req.IDs})
}

func (s *RESTServer) publishEvent(event domain.Event) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(event); err != nil {
		logger.Errorf("API: failed to publish %s event: %v", event.EventType, err)
	}
}
