package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *RESTServer) getLibrarySections(c *gin.Context) {
	libraries, err := s.plex.Libraries(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "plex", err)
		return
	}
	c.JSON(http.StatusOK, libraries)
}

func (s *RESTServer) getLibraryContent(c *gin.Context) {
	key := c.Param("key")

	start, _ := strconv.Atoi(c.DefaultQuery("start", "0"))
	if start < 0 {
		start = 0
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	if size < 1 || size > 500 {
		size = 50
	}

	container, err := s.plex.LibraryContent(c.Request.Context(), key, start, size)
	if err != nil {
		respondUpstreamError(c, "plex", err)
		return
	}
	c.JSON(http.StatusOK, container)
}

func (s *RESTServer) getLibraryRecent(c *gin.Context) {
	items, err := s.plex.RecentlyAdded(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "plex", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *RESTServer) searchLibrary(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	items, err := s.plex.Search(c.Request.Context(), query)
	if err != nil {
		respondUpstreamError(c, "plex", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *RESTServer) getLibraryItem(c *gin.Context) {
	item, err := s.plex.ItemDetails(c.Request.Context(), c.Param("ratingKey"))
	if err != nil {
		respondUpstreamError(c, "plex", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// requestPlexPIN starts the plex.tv PIN link flow. The client supplies its
// own stable client identifier so the PIN can be checked later.
func (s *RESTServer) requestPlexPIN(c *gin.Context) {
	var req struct {
		ClientID string `json:"clientId" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	pin, err := s.plex.RequestPIN(c.Request.Context(), req.ClientID)
	if err != nil {
		respondUpstreamError(c, "plex", err)
		return
	}
	c.JSON(http.StatusOK, pin)
}

func (s *RESTServer) checkPlexPIN(c *gin.Context) {
	pinID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || pinID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMsgInvalidID})
		return
	}
	clientID := c.Query("client_id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client_id is required"})
		return
	}

	pin, err := s.plex.CheckPIN(c.Request.Context(), pinID, clientID)
	if err != nil {
		respondUpstreamError(c, "plex", err)
		return
	}
	c.JSON(http.StatusOK, pin)
}

func (s *RESTServer) getPlexServers(c *gin.Context) {
	token := c.Query("token")
	clientID := c.Query("client_id")
	if token == "" || clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and client_id are required"})
		return
	}

	servers, err := s.plex.Servers(c.Request.Context(), token, clientID)
	if err != nil {
		respondUpstreamError(c, "plex", err)
		return
	}
	c.JSON(http.StatusOK, servers)
}
