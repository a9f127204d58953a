package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mescon/Gatherr/internal/settings"
)

// arrClient is the shared core for Radarr and Sonarr: v3 REST API with the
// key in the X-Api-Key header. The two concrete clients only differ in
// resource names and the add-request payloads.
type arrClient struct {
	service settings.Service
	store   *settings.Store
	rc      *restClient
}

func newArrClient(service settings.Service, store *settings.Store, opts Options) *arrClient {
	return &arrClient{
		service: service,
		store:   store,
		rc:      newRestClient(service, opts),
	}
}

func (c *arrClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	record := c.store.Get(c.service)
	if record.Endpoint == "" || record.APIKey == "" {
		return notConfigured(c.service)
	}
	return c.rc.do(ctx, request{
		method: method,
		url:    record.Endpoint + "/api/v3" + path,
		query:  query,
		auth:   authHeader("X-Api-Key", record.APIKey),
		body:   body,
	}, out)
}

// ArrSystemStatus is the /system/status response.
type ArrSystemStatus struct {
	AppName string `json:"appName"`
	Version string `json:"version"`
	Branch  string `json:"branch"`
}

func (s *ArrSystemStatus) validate() error {
	if s.Version == "" {
		return fmt.Errorf("body is not a system status response")
	}
	return nil
}

// SystemStatus fetches /system/status. Used as the connection probe.
func (c *arrClient) SystemStatus(ctx context.Context) (*ArrSystemStatus, error) {
	var status ArrSystemStatus
	if err := c.do(ctx, http.MethodGet, "/system/status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ArrQualityProfile is one configured quality profile.
type ArrQualityProfile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// QualityProfiles lists the configured quality profiles.
func (c *arrClient) QualityProfiles(ctx context.Context) ([]ArrQualityProfile, error) {
	var profiles []ArrQualityProfile
	if err := c.do(ctx, http.MethodGet, "/qualityprofile", nil, nil, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// ArrRootFolder is one configured root folder.
type ArrRootFolder struct {
	ID        int    `json:"id"`
	Path      string `json:"path"`
	FreeSpace int64  `json:"freeSpace"`
}

// RootFolders lists the configured root folders.
func (c *arrClient) RootFolders(ctx context.Context) ([]ArrRootFolder, error) {
	var folders []ArrRootFolder
	if err := c.do(ctx, http.MethodGet, "/rootfolder", nil, nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// ArrCommand is the response of a queued command.
type ArrCommand struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Command queues a command such as MoviesSearch or SeriesSearch. body holds
// the command-specific parameters and must include the name.
func (c *arrClient) Command(ctx context.Context, body map[string]interface{}) (*ArrCommand, error) {
	var cmd ArrCommand
	if err := c.do(ctx, http.MethodPost, "/command", nil, body, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// defaults returns the stored quality profile and root folder for add calls,
// falling back to the caller-supplied values when unset.
func (c *arrClient) defaults(qualityProfileID int, rootFolderPath string) (int, string) {
	record := c.store.Get(c.service)
	if qualityProfileID <= 0 {
		qualityProfileID = record.QualityProfileID
	}
	if rootFolderPath == "" {
		rootFolderPath = record.RootFolderPath
	}
	return qualityProfileID, rootFolderPath
}

// RadarrMovie is a movie in Radarr, both in the library and in lookups.
type RadarrMovie struct {
	ID               int64      `json:"id,omitempty"`
	Title            string     `json:"title"`
	TMDBID           int64      `json:"tmdbId"`
	Year             int        `json:"year,omitempty"`
	Overview         string     `json:"overview,omitempty"`
	Status           string     `json:"status,omitempty"`
	Monitored        bool       `json:"monitored"`
	HasFile          bool       `json:"hasFile,omitempty"`
	QualityProfileID int        `json:"qualityProfileId,omitempty"`
	RootFolderPath   string     `json:"rootFolderPath,omitempty"`
	TitleSlug        string     `json:"titleSlug,omitempty"`
	Images           []ArrImage `json:"images,omitempty"`

	AddOptions *RadarrAddOptions `json:"addOptions,omitempty"`
}

// ArrImage is one poster/banner reference.
type ArrImage struct {
	CoverType string `json:"coverType"`
	RemoteURL string `json:"remoteUrl,omitempty"`
	URL       string `json:"url,omitempty"`
}

// RadarrAddOptions controls what Radarr does right after an add.
type RadarrAddOptions struct {
	SearchForMovie bool `json:"searchForMovie"`
}

// RadarrClient manages movies in a Radarr instance.
type RadarrClient struct {
	*arrClient
}

func NewRadarrClient(store *settings.Store, opts Options) *RadarrClient {
	return &RadarrClient{arrClient: newArrClient(settings.ServiceRadarr, store, opts)}
}

// Movies lists the whole movie library.
func (c *RadarrClient) Movies(ctx context.Context) ([]RadarrMovie, error) {
	var movies []RadarrMovie
	if err := c.do(ctx, http.MethodGet, "/movie", nil, nil, &movies); err != nil {
		return nil, err
	}
	return movies, nil
}

// Movie fetches one movie by its Radarr id.
func (c *RadarrClient) Movie(ctx context.Context, id int64) (*RadarrMovie, error) {
	var movie RadarrMovie
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/movie/%d", id), nil, nil, &movie); err != nil {
		return nil, err
	}
	return &movie, nil
}

// Lookup searches Radarr's metadata source by free-form term.
func (c *RadarrClient) Lookup(ctx context.Context, term string) ([]RadarrMovie, error) {
	q := url.Values{}
	q.Set("term", term)

	var movies []RadarrMovie
	if err := c.do(ctx, http.MethodGet, "/movie/lookup", q, nil, &movies); err != nil {
		return nil, err
	}
	return movies, nil
}

// LookupByTMDB resolves one movie by TMDB id.
func (c *RadarrClient) LookupByTMDB(ctx context.Context, tmdbID int64) (*RadarrMovie, error) {
	movies, err := c.Lookup(ctx, "tmdb:"+strconv.FormatInt(tmdbID, 10))
	if err != nil {
		return nil, err
	}
	if len(movies) == 0 {
		return nil, fmt.Errorf("Radarr found no movie for TMDB id %d", tmdbID)
	}
	return &movies[0], nil
}

// AddByTMDB looks a movie up by TMDB id and adds it monitored, with an
// immediate search. Zero/empty profile and folder fall back to the stored
// library defaults.
func (c *RadarrClient) AddByTMDB(ctx context.Context, tmdbID int64, qualityProfileID int, rootFolderPath string) (*RadarrMovie, error) {
	movie, err := c.LookupByTMDB(ctx, tmdbID)
	if err != nil {
		return nil, err
	}

	movie.QualityProfileID, movie.RootFolderPath = c.defaults(qualityProfileID, rootFolderPath)
	if movie.QualityProfileID <= 0 || movie.RootFolderPath == "" {
		return nil, fmt.Errorf("Radarr needs a quality profile and root folder before adding movies")
	}
	movie.Monitored = true
	movie.AddOptions = &RadarrAddOptions{SearchForMovie: true}

	return c.AddMovie(ctx, movie)
}

// AddMovie posts a fully-populated movie to the library.
func (c *RadarrClient) AddMovie(ctx context.Context, movie *RadarrMovie) (*RadarrMovie, error) {
	var added RadarrMovie
	if err := c.do(ctx, http.MethodPost, "/movie", nil, movie, &added); err != nil {
		return nil, err
	}
	return &added, nil
}

// UpdateMovie replaces a library movie.
func (c *RadarrClient) UpdateMovie(ctx context.Context, movie *RadarrMovie) (*RadarrMovie, error) {
	var updated RadarrMovie
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/movie/%d", movie.ID), nil, movie, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteMovie removes a movie, optionally deleting its files.
func (c *RadarrClient) DeleteMovie(ctx context.Context, id int64, deleteFiles bool) error {
	q := url.Values{}
	q.Set("deleteFiles", strconv.FormatBool(deleteFiles))
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/movie/%d", id), q, nil, nil)
}

// SearchMovies queues a MoviesSearch command for the given library ids.
func (c *RadarrClient) SearchMovies(ctx context.Context, movieIDs []int64) (*ArrCommand, error) {
	return c.Command(ctx, map[string]interface{}{
		"name":     "MoviesSearch",
		"movieIds": movieIDs,
	})
}

// SonarrSeries is a series in Sonarr, both in the library and in lookups.
type SonarrSeries struct {
	ID               int64          `json:"id,omitempty"`
	Title            string         `json:"title"`
	TVDBID           int64          `json:"tvdbId"`
	TMDBID           int64          `json:"tmdbId,omitempty"`
	Year             int            `json:"year,omitempty"`
	Overview         string         `json:"overview,omitempty"`
	Status           string         `json:"status,omitempty"`
	Monitored        bool           `json:"monitored"`
	QualityProfileID int            `json:"qualityProfileId,omitempty"`
	RootFolderPath   string         `json:"rootFolderPath,omitempty"`
	TitleSlug        string         `json:"titleSlug,omitempty"`
	SeasonFolder     bool           `json:"seasonFolder"`
	Images           []ArrImage     `json:"images,omitempty"`
	Seasons          []SonarrSeason `json:"seasons,omitempty"`

	AddOptions *SonarrAddOptions `json:"addOptions,omitempty"`
}

// SonarrSeason is one season's monitoring flag.
type SonarrSeason struct {
	SeasonNumber int  `json:"seasonNumber"`
	Monitored    bool `json:"monitored"`
}

// SonarrAddOptions controls what Sonarr does right after an add.
type SonarrAddOptions struct {
	SearchForMissingEpisodes bool `json:"searchForMissingEpisodes"`
}

// SonarrEpisode is one episode of a library series.
type SonarrEpisode struct {
	ID            int64  `json:"id"`
	SeriesID      int64  `json:"seriesId"`
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Title         string `json:"title"`
	AirDate       string `json:"airDate,omitempty"`
	HasFile       bool   `json:"hasFile"`
	Monitored     bool   `json:"monitored"`
}

// SonarrClient manages series in a Sonarr instance.
type SonarrClient struct {
	*arrClient
}

func NewSonarrClient(store *settings.Store, opts Options) *SonarrClient {
	return &SonarrClient{arrClient: newArrClient(settings.ServiceSonarr, store, opts)}
}

// Series lists the whole series library.
func (c *SonarrClient) Series(ctx context.Context) ([]SonarrSeries, error) {
	var series []SonarrSeries
	if err := c.do(ctx, http.MethodGet, "/series", nil, nil, &series); err != nil {
		return nil, err
	}
	return series, nil
}

// SeriesByID fetches one series by its Sonarr id.
func (c *SonarrClient) SeriesByID(ctx context.Context, id int64) (*SonarrSeries, error) {
	var series SonarrSeries
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/series/%d", id), nil, nil, &series); err != nil {
		return nil, err
	}
	return &series, nil
}

// Lookup searches Sonarr's metadata source by free-form term.
func (c *SonarrClient) Lookup(ctx context.Context, term string) ([]SonarrSeries, error) {
	q := url.Values{}
	q.Set("term", term)

	var series []SonarrSeries
	if err := c.do(ctx, http.MethodGet, "/series/lookup", q, nil, &series); err != nil {
		return nil, err
	}
	return series, nil
}

// LookupByTVDB resolves one series by TVDB id.
func (c *SonarrClient) LookupByTVDB(ctx context.Context, tvdbID int64) (*SonarrSeries, error) {
	series, err := c.Lookup(ctx, "tvdb:"+strconv.FormatInt(tvdbID, 10))
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("Sonarr found no series for TVDB id %d", tvdbID)
	}
	return &series[0], nil
}

// AddByTVDB looks a series up by TVDB id and adds it monitored with season
// folders, searching for missing episodes. Zero/empty profile and folder
// fall back to the stored library defaults.
func (c *SonarrClient) AddByTVDB(ctx context.Context, tvdbID int64, qualityProfileID int, rootFolderPath string) (*SonarrSeries, error) {
	series, err := c.LookupByTVDB(ctx, tvdbID)
	if err != nil {
		return nil, err
	}

	series.QualityProfileID, series.RootFolderPath = c.defaults(qualityProfileID, rootFolderPath)
	if series.QualityProfileID <= 0 || series.RootFolderPath == "" {
		return nil, fmt.Errorf("Sonarr needs a quality profile and root folder before adding series")
	}
	series.Monitored = true
	series.SeasonFolder = true
	series.AddOptions = &SonarrAddOptions{SearchForMissingEpisodes: true}

	return c.AddSeries(ctx, series)
}

// AddSeries posts a fully-populated series to the library.
func (c *SonarrClient) AddSeries(ctx context.Context, series *SonarrSeries) (*SonarrSeries, error) {
	var added SonarrSeries
	if err := c.do(ctx, http.MethodPost, "/series", nil, series, &added); err != nil {
		return nil, err
	}
	return &added, nil
}

// UpdateSeries replaces a library series.
func (c *SonarrClient) UpdateSeries(ctx context.Context, series *SonarrSeries) (*SonarrSeries, error) {
	var updated SonarrSeries
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/series/%d", series.ID), nil, series, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteSeries removes a series, optionally deleting its files.
func (c *SonarrClient) DeleteSeries(ctx context.Context, id int64, deleteFiles bool) error {
	q := url.Values{}
	q.Set("deleteFiles", strconv.FormatBool(deleteFiles))
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/series/%d", id), q, nil, nil)
}

// Episodes lists the episodes of one series.
func (c *SonarrClient) Episodes(ctx context.Context, seriesID int64) ([]SonarrEpisode, error) {
	q := url.Values{}
	q.Set("seriesId", strconv.FormatInt(seriesID, 10))

	var episodes []SonarrEpisode
	if err := c.do(ctx, http.MethodGet, "/episode", q, nil, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// SearchSeries queues a SeriesSearch command for one series.
func (c *SonarrClient) SearchSeries(ctx context.Context, seriesID int64) (*ArrCommand, error) {
	return c.Command(ctx, map[string]interface{}{
		"name":     "SeriesSearch",
		"seriesId": seriesID,
	})
}

// SearchEpisodes queues an EpisodeSearch command for specific episodes.
func (c *SonarrClient) SearchEpisodes(ctx context.Context, episodeIDs []int64) (*ArrCommand, error) {
	return c.Command(ctx, map[string]interface{}{
		"name":       "EpisodeSearch",
		"episodeIds": episodeIDs,
	})
}
