package api

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Gatherr/internal/watchlist"
)

// watchlistSortColumns maps user-facing sort keys to DB columns.
var watchlistSortColumns = map[string]string{
	"added_at":     "added_at",
	"title":        "title",
	"release_date": "release_date",
	"vote_average": "vote_average",
}

func watchlistPaginationConfig() PaginationConfig {
	allowed := make(map[string]bool, len(watchlistSortColumns))
	for k := range watchlistSortColumns {
		allowed[k] = true
	}
	return PaginationConfig{
		DefaultLimit:     50,
		MaxLimit:         500,
		DefaultSortBy:    "added_at",
		DefaultSortOrder: "desc",
		AllowedSortBy:    allowed,
	}
}

func (s *RESTServer) getWatchlist(c *gin.Context) {
	mediaType := c.Query("media_type")
	if mediaType != "" && mediaType != "movie" && mediaType != "tv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media_type must be movie or tv"})
		return
	}

	p := ParsePagination(c, watchlistPaginationConfig())
	orderBy := SafeOrderByClause(p.SortBy, p.SortOrder, watchlistSortColumns, "added_at", "desc")

	items, err := s.watchlist.List(mediaType, orderBy, p.Limit, p.Offset)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	total, err := s.watchlist.Count(mediaType)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":      items,
		"pagination": NewPaginationResponse(p, total),
	})
}

func (s *RESTServer) addWatchlistItem(c *gin.Context) {
	var item watchlist.Item
	if err := c.BindJSON(&item); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	stored, err := s.watchlist.Add(item)
	if err != nil {
		respondBadRequest(c, err, true)
		return
	}

	c.JSON(http.StatusCreated, stored)
}

func (s *RESTServer) removeWatchlistItem(c *gin.Context) {
	mediaType := c.Param("mediaType")
	if mediaType != "movie" && mediaType != "tv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "media type must be movie or tv"})
		return
	}

	tmdbID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || tmdbID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMsgInvalidID})
		return
	}

	if err := s.watchlist.Remove(mediaType, tmdbID); err != nil {
		if err == sql.ErrNoRows {
			respondNotFound(c, "Watchlist item")
			return
		}
		respondDatabaseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Removed from watchlist"})
}
