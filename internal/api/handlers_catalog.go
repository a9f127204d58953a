package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// pageParam parses the page query parameter, defaulting to 1.
func pageParam(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// mediaTypeParam validates a movie/tv media type from a query parameter.
func mediaTypeParam(c *gin.Context, key string) (string, bool) {
	mediaType := c.DefaultQuery(key, "movie")
	if mediaType != "movie" && mediaType != "tv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media_type must be movie or tv"})
		return "", false
	}
	return mediaType, true
}

func (s *RESTServer) getCatalogMovies(c *gin.Context) {
	list := c.DefaultQuery("list", "popular")

	page, err := s.tmdb.MovieList(c.Request.Context(), list, pageParam(c))
	if err != nil {
		respondUpstreamError(c, "tmdb", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *RESTServer) getCatalogTV(c *gin.Context) {
	list := c.DefaultQuery("list", "popular")

	page, err := s.tmdb.TVList(c.Request.Context(), list, pageParam(c))
	if err != nil {
		respondUpstreamError(c, "tmdb", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *RESTServer) getCatalogTrending(c *gin.Context) {
	mediaType, ok := mediaTypeParam(c, "media_type")
	if !ok {
		return
	}
	window := c.DefaultQuery("window", "week")

	page, err := s.tmdb.Trending(c.Request.Context(), mediaType, window, pageParam(c))
	if err != nil {
		respondUpstreamError(c, "tmdb", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *RESTServer) searchCatalog(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	mediaType, ok := mediaTypeParam(c, "media_type")
	if !ok {
		return
	}

	page, err := s.tmdb.Search(c.Request.Context(), mediaType, query, pageParam(c))
	if err != nil {
		respondUpstreamError(c, "tmdb", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *RESTServer) getCatalogGenres(c *gin.Context) {
	mediaType, ok := mediaTypeParam(c, "media_type")
	if !ok {
		return
	}

	genres, err := s.tmdb.Genres(c.Request.Context(), mediaType)
	if err != nil {
		respondUpstreamError(c, "tmdb", err)
		return
	}
	c.JSON(http.StatusOK, genres)
}

func (s *RESTServer) getCatalogDetails(c *gin.Context) {
	mediaType := c.Param("mediaType")
	if mediaType != "movie" && mediaType != "tv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media type must be movie or tv"})
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMsgInvalidID})
		return
	}

	details, err := s.tmdb.Details(c.Request.Context(), mediaType, id, c.Query("append"))
	if err != nil {
		respondUpstreamError(c, "tmdb", err)
		return
	}
	c.JSON(http.StatusOK, details)
}
