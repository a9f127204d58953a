package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Gatherr/internal/integration"
)

// iptvKind validates the :kind path parameter shared by the category and
// stream listing endpoints.
func iptvKind(c *gin.Context) (string, bool) {
	kind := c.Param("kind")
	switch kind {
	case "live", "vod", "series":
		return kind, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be live, vod, or series"})
	return "", false
}

func (s *RESTServer) getIPTVCategories(c *gin.Context) {
	kind, ok := iptvKind(c)
	if !ok {
		return
	}

	var categories []integration.XtreamCategory
	var err error
	switch kind {
	case "live":
		categories, err = s.xtream.LiveCategories(c.Request.Context())
	case "vod":
		categories, err = s.xtream.VODCategories(c.Request.Context())
	case "series":
		categories, err = s.xtream.SeriesCategories(c.Request.Context())
	}
	if err != nil {
		respondUpstreamError(c, "iptv", err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (s *RESTServer) getIPTVStreams(c *gin.Context) {
	kind, ok := iptvKind(c)
	if !ok {
		return
	}
	categoryID := c.Query("category_id")

	ctx := c.Request.Context()
	switch kind {
	case "live":
		streams, err := s.xtream.LiveStreams(ctx, categoryID)
		if err != nil {
			respondUpstreamError(c, "iptv", err)
			return
		}
		c.JSON(http.StatusOK, streams)
	case "vod":
		streams, err := s.xtream.VODStreams(ctx, categoryID)
		if err != nil {
			respondUpstreamError(c, "iptv", err)
			return
		}
		c.JSON(http.StatusOK, streams)
	case "series":
		series, err := s.xtream.SeriesList(ctx, categoryID)
		if err != nil {
			respondUpstreamError(c, "iptv", err)
			return
		}
		c.JSON(http.StatusOK, series)
	}
}

func (s *RESTServer) getIPTVSeriesInfo(c *gin.Context) {
	info, err := s.xtream.SeriesInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondUpstreamError(c, "iptv", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *RESTServer) getIPTVShortEPG(c *gin.Context) {
	entries, err := s.xtream.ShortEPG(c.Request.Context(), c.Param("streamId"))
	if err != nil {
		respondUpstreamError(c, "iptv", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// getIPTVStreamURL builds the playable URL for a stream. This never touches
// the remote server; it only assembles the address from saved credentials.
func (s *RESTServer) getIPTVStreamURL(c *gin.Context) {
	kind := c.Query("kind")
	streamID := c.Query("stream_id")
	if kind == "" || streamID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind and stream_id are required"})
		return
	}

	url, err := s.xtream.StreamURL(kind, streamID, c.Query("extension"))
	if err != nil {
		respondUpstreamError(c, "iptv", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *RESTServer) findIPTVVOD(c *gin.Context) {
	title := c.Query("title")
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	stream, err := s.xtream.FindVOD(c.Request.Context(), title)
	if err != nil {
		respondUpstreamError(c, "iptv", err)
		return
	}
	c.JSON(http.StatusOK, stream)
}
