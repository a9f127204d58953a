package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Gatherr/internal/domain"
)

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMsgInvalidID})
		return 0, false
	}
	return id, true
}

// =============================================================================
// Radarr
// =============================================================================

func (s *RESTServer) getRadarrMovies(c *gin.Context) {
	movies, err := s.radarr.Movies(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "radarr", err)
		return
	}
	c.JSON(http.StatusOK, movies)
}

func (s *RESTServer) getRadarrMovie(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	movie, err := s.radarr.Movie(c.Request.Context(), id)
	if err != nil {
		respondUpstreamError(c, "radarr", err)
		return
	}
	c.JSON(http.StatusOK, movie)
}

// lookupRadarr searches Radarr's catalog by term or TMDB id.
func (s *RESTServer) lookupRadarr(c *gin.Context) {
	ctx := c.Request.Context()

	if tmdbParam := c.Query("tmdb_id"); tmdbParam != "" {
		tmdbID, err := strconv.ParseInt(tmdbParam, 10, 64)
		if err != nil || tmdbID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tmdb_id"})
			return
		}
		movie, err := s.radarr.LookupByTMDB(ctx, tmdbID)
		if err != nil {
			respondUpstreamError(c, "radarr", err)
			return
		}
		c.JSON(http.StatusOK, movie)
		return
	}

	term := c.Query("term")
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "term or tmdb_id is required"})
		return
	}
	movies, err := s.radarr.Lookup(ctx, term)
	if err != nil {
		respondUpstreamError(c, "radarr", err)
		return
	}
	c.JSON(http.StatusOK, movies)
}

// addRadarrMovie adds a movie by TMDB id. Quality profile and root folder
// fall back to the saved service defaults when omitted.
func (s *RESTServer) addRadarrMovie(c *gin.Context) {
	var req struct {
		TMDBID           int64  `json:"tmdbId" binding:"required"`
		QualityProfileID int    `json:"qualityProfileId"`
		RootFolderPath   string `json:"rootFolderPath"`
	}
	if err := c.BindJSON(&req); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	movie, err := s.radarr.AddByTMDB(c.Request.Context(), req.TMDBID, req.QualityProfileID, req.RootFolderPath)
	if err != nil {
		respondUpstreamError(c, "radarr", err)
		return
	}

	s.publishEvent(domain.Event{
		AggregateType: "media",
		AggregateID:   "movie:" + strconv.FormatInt(req.TMDBID, 10),
		EventType:     domain.MediaAdded,
		EventData: map[string]interface{}{
			"service":    "radarr",
			"media_type": "movie",
			"tmdb_id":    req.TMDBID,
			"title":      movie.Title,
		},
	})

	c.JSON(http.StatusCreated, movie)
}

func (s *RESTServer) deleteRadarrMovie(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	deleteFiles := c.Query("delete_files") == "true"

	ctx := c.Request.Context()
	movie, err := s.radarr.Movie(ctx, id)
	if err != nil {
		respondUpstreamError(c, "radarr", err)
		return
	}

	if err := s.radarr.DeleteMovie(ctx, id, deleteFiles); err != nil {
		respondUpstreamError(c, "radarr", err)
		return
	}

	s.publishEvent(domain.Event{
		AggregateType: "media",
		AggregateID:   "movie:" + strconv.FormatInt(movie.TMDBID, 10),
		EventType:     domain.MediaRemoved,
		EventData: map[string]interface{}{
			"service":    "radarr",
			"media_type": "movie",
			"tmdb_id":    movie.TMDBID,
			"title":      movie.Title,
		},
	})

	c.JSON(http.StatusOK, gin.H{"message": "Movie deleted", "id": id})
}

func (s *RESTServer) searchRadarrMovie(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	command, err := s.radarr.SearchMovies(c.Request.Context(), []int64{id})
	if err != nil {
		respondUpstreamError(c, "radarr", err)
		return
	}
	c.JSON(http.StatusOK, command)
}

func (s *RESTServer) getRadarrProfiles(c *gin.Context) {
	profiles, err := s.radarr.QualityProfiles(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "radarr", err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (s *RESTServer) getRadarrRootFolders(c *gin.Context) {
	folders, err := s.radarr.RootFolders(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "radarr", err)
		return
	}
	c.JSON(http.StatusOK, folders)
}

// =============================================================================
// Sonarr
// =============================================================================

func (s *RESTServer) getSonarrSeries(c *gin.Context) {
	series, err := s.sonarr.Series(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}
	c.JSON(http.StatusOK, series)
}

func (s *RESTServer) getSonarrSeriesByID(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	series, err := s.sonarr.SeriesByID(c.Request.Context(), id)
	if err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}
	c.JSON(http.StatusOK, series)
}

// lookupSonarr searches Sonarr's catalog by term or TVDB id.
func (s *RESTServer) lookupSonarr(c *gin.Context) {
	ctx := c.Request.Context()

	if tvdbParam := c.Query("tvdb_id"); tvdbParam != "" {
		tvdbID, err := strconv.ParseInt(tvdbParam, 10, 64)
		if err != nil || tvdbID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tvdb_id"})
			return
		}
		series, err := s.sonarr.LookupByTVDB(ctx, tvdbID)
		if err != nil {
			respondUpstreamError(c, "sonarr", err)
			return
		}
		c.JSON(http.StatusOK, series)
		return
	}

	term := c.Query("term")
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "term or tvdb_id is required"})
		return
	}
	series, err := s.sonarr.Lookup(ctx, term)
	if err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}
	c.JSON(http.StatusOK, series)
}

func (s *RESTServer) addSonarrSeries(c *gin.Context) {
	var req struct {
		TVDBID           int64  `json:"tvdbId" binding:"required"`
		QualityProfileID int    `json:"qualityProfileId"`
		RootFolderPath   string `json:"rootFolderPath"`
	}
	if err := c.BindJSON(&req); err != nil {
		respondBadRequest(c, err, true)
		return
	}

	series, err := s.sonarr.AddByTVDB(c.Request.Context(), req.TVDBID, req.QualityProfileID, req.RootFolderPath)
	if err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}

	s.publishEvent(domain.Event{
		AggregateType: "media",
		AggregateID:   "tv:" + strconv.FormatInt(req.TVDBID, 10),
		EventType:     domain.MediaAdded,
		EventData: map[string]interface{}{
			"service":    "sonarr",
			"media_type": "tv",
			"tvdb_id":    req.TVDBID,
			"title":      series.Title,
		},
	})

	c.JSON(http.StatusCreated, series)
}

func (s *RESTServer) deleteSonarrSeries(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	deleteFiles := c.Query("delete_files") == "true"

	ctx := c.Request.Context()
	series, err := s.sonarr.SeriesByID(ctx, id)
	if err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}

	if err := s.sonarr.DeleteSeries(ctx, id, deleteFiles); err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}

	s.publishEvent(domain.Event{
		AggregateType: "media",
		AggregateID:   "tv:" + strconv.FormatInt(series.TVDBID, 10),
		EventType:     domain.MediaRemoved,
		EventData: map[string]interface{}{
			"service":    "sonarr",
			"media_type": "tv",
			"tvdb_id":    series.TVDBID,
			"title":      series.Title,
		},
	})

	c.JSON(http.StatusOK, gin.H{"message": "Series deleted", "id": id})
}

func (s *RESTServer) getSonarrEpisodes(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	episodes, err := s.sonarr.Episodes(c.Request.Context(), id)
	if err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}
	c.JSON(http.StatusOK, episodes)
}

func (s *RESTServer) searchSonarrSeries(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	command, err := s.sonarr.SearchSeries(c.Request.Context(), id)
	if err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}
	c.JSON(http.StatusOK, command)
}

func (s *RESTServer) getSonarrProfiles(c *gin.Context) {
	profiles, err := s.sonarr.QualityProfiles(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (s *RESTServer) getSonarrRootFolders(c *gin.Context) {
	folders, err := s.sonarr.RootFolders(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, "sonarr", err)
		return
	}
	c.JSON(http.StatusOK, folders)
}
