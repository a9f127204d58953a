package integration

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mescon/Gatherr/internal/config"
	"github.com/mescon/Gatherr/internal/settings"
)

const (
	tmdbDefaultEndpoint = "https://api.themoviedb.org"
	tmdbImageBase       = "https://image.tmdb.org/t/p"
)

// TMDBClient talks to The Movie Database API (v3). The API key is resolved
// per call: an explicit override wins, then the stored user key, then
// GATHERR_TMDB_API_KEY. When the user points the client at a mirror endpoint
// it probes the candidate origins on every call.
type TMDBClient struct {
	store *settings.Store
	rc    *restClient
}

func NewTMDBClient(store *settings.Store, opts Options) *TMDBClient {
	return &TMDBClient{
		store: store,
		rc:    newRestClient(settings.ServiceTMDB, opts),
	}
}

// apiKey resolves the key to use, empty when nothing is configured.
func (c *TMDBClient) apiKey(override string) string {
	if key := strings.TrimSpace(override); key != "" {
		return key
	}
	if key := c.store.Get(settings.ServiceTMDB).APIKey; key != "" {
		return key
	}
	return config.Get().TMDBAPIKey
}

// origins returns the candidate origins. The official endpoint is trusted as
// is; only user-supplied mirrors get the fallback treatment.
func (c *TMDBClient) origins() []string {
	endpoint := c.store.Get(settings.ServiceTMDB).Endpoint
	if endpoint == "" || endpoint == tmdbDefaultEndpoint {
		return []string{tmdbDefaultEndpoint}
	}
	return OriginCandidates(endpoint)
}

func (c *TMDBClient) get(ctx context.Context, path string, query url.Values, out interface{}) (string, error) {
	key := c.apiKey("")
	if key == "" {
		return "", notConfigured(settings.ServiceTMDB)
	}

	var attempts []labeledRequest
	for _, origin := range c.origins() {
		attempts = append(attempts, labeledRequest{
			label: origin,
			req: request{
				url:   origin + path,
				query: query,
				auth:  authQuery("api_key", key),
			},
		})
	}
	return c.rc.first(ctx, attempts, out)
}

// TMDBItem is one movie or TV entry in a list response. Movies carry Title
// and ReleaseDate, TV carries Name and FirstAirDate.
type TMDBItem struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title,omitempty"`
	Name         string  `json:"name,omitempty"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	ReleaseDate  string  `json:"release_date,omitempty"`
	FirstAirDate string  `json:"first_air_date,omitempty"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int64   `json:"vote_count"`
	Popularity   float64 `json:"popularity"`
	GenreIDs     []int64 `json:"genre_ids"`
	MediaType    string  `json:"media_type,omitempty"`
}

// DisplayTitle returns the movie title or TV name, whichever is set.
func (i TMDBItem) DisplayTitle() string {
	if i.Title != "" {
		return i.Title
	}
	return i.Name
}

// TMDBPage is a paginated list response.
type TMDBPage struct {
	Page         int        `json:"page"`
	Results      []TMDBItem `json:"results"`
	TotalPages   int        `json:"total_pages"`
	TotalResults int        `json:"total_results"`
}

func (p *TMDBPage) validate() error {
	// A real list response always carries a page number; an error body
	// ({"status_message": ...}) or anything else decodes to the zero value.
	if p.Page == 0 && p.Results == nil {
		return fmt.Errorf("body is not a paginated list")
	}
	return nil
}

// TMDBGenre is one entry from the genre list endpoints.
type TMDBGenre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type tmdbGenreList struct {
	Genres []TMDBGenre `json:"genres"`
}

func (g *tmdbGenreList) validate() error {
	if g.Genres == nil {
		return fmt.Errorf("body has no genres field")
	}
	return nil
}

type tmdbConfiguration struct {
	Images struct {
		SecureBaseURL string `json:"secure_base_url"`
	} `json:"images"`
}

func (c *tmdbConfiguration) validate() error {
	if c.Images.SecureBaseURL == "" {
		return fmt.Errorf("body is not a configuration response")
	}
	return nil
}

// Movie list names accepted by MovieList.
const (
	TMDBMoviesPopular    = "popular"
	TMDBMoviesTopRated   = "top_rated"
	TMDBMoviesUpcoming   = "upcoming"
	TMDBMoviesNowPlaying = "now_playing"
)

// TV list names accepted by TVList.
const (
	TMDBTVPopular     = "popular"
	TMDBTVTopRated    = "top_rated"
	TMDBTVAiringToday = "airing_today"
	TMDBTVOnTheAir    = "on_the_air"
)

// Probe checks that the endpoint answers and the API key is accepted.
// Returns the origin that answered.
func (c *TMDBClient) Probe(ctx context.Context) (string, error) {
	var cfg tmdbConfiguration
	return c.get(ctx, "/3/configuration", nil, &cfg)
}

// MovieList fetches one of the curated movie lists.
func (c *TMDBClient) MovieList(ctx context.Context, list string, page int) (*TMDBPage, error) {
	var result TMDBPage
	_, err := c.get(ctx, "/3/movie/"+url.PathEscape(list), pageQuery(page), &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// TVList fetches one of the curated TV lists.
func (c *TMDBClient) TVList(ctx context.Context, list string, page int) (*TMDBPage, error) {
	var result TMDBPage
	_, err := c.get(ctx, "/3/tv/"+url.PathEscape(list), pageQuery(page), &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Trending fetches trending media. mediaType is "movie", "tv" or "all";
// window is "day" or "week".
func (c *TMDBClient) Trending(ctx context.Context, mediaType, window string, page int) (*TMDBPage, error) {
	if window == "" {
		window = "week"
	}
	var result TMDBPage
	path := fmt.Sprintf("/3/trending/%s/%s", url.PathEscape(mediaType), url.PathEscape(window))
	_, err := c.get(ctx, path, pageQuery(page), &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Search queries the search endpoint. mediaType is "movie", "tv" or "multi".
func (c *TMDBClient) Search(ctx context.Context, mediaType, query string, page int) (*TMDBPage, error) {
	q := pageQuery(page)
	q.Set("query", query)
	q.Set("include_adult", "false")

	var result TMDBPage
	_, err := c.get(ctx, "/3/search/"+url.PathEscape(mediaType), q, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Genres fetches the genre list for "movie" or "tv".
func (c *TMDBClient) Genres(ctx context.Context, mediaType string) ([]TMDBGenre, error) {
	var result tmdbGenreList
	_, err := c.get(ctx, fmt.Sprintf("/3/genre/%s/list", url.PathEscape(mediaType)), nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Genres, nil
}

// Details fetches full details for one movie or TV show. appendTo maps to
// append_to_response ("videos,credits" etc.) and may be empty.
func (c *TMDBClient) Details(ctx context.Context, mediaType string, id int64, appendTo string) (map[string]interface{}, error) {
	query := url.Values{}
	if appendTo != "" {
		query.Set("append_to_response", appendTo)
	}

	var result map[string]interface{}
	path := fmt.Sprintf("/3/%s/%d", url.PathEscape(mediaType), id)
	_, err := c.get(ctx, path, query, &result)
	if err != nil {
		return nil, err
	}
	if _, ok := result["id"]; !ok {
		return nil, &DecodeError{
			Service: settings.ServiceTMDB,
			Target:  path,
			Err:     fmt.Errorf("body is not a details response"),
		}
	}
	return result, nil
}

// PosterURL builds a full image URL for a poster path. size is a TMDB size
// slug such as "w342" or "original".
func (c *TMDBClient) PosterURL(path, size string) string {
	if path == "" {
		return ""
	}
	if size == "" {
		size = "w342"
	}
	return tmdbImageBase + "/" + size + path
}

// BackdropURL builds a full image URL for a backdrop path.
func (c *TMDBClient) BackdropURL(path, size string) string {
	if path == "" {
		return ""
	}
	if size == "" {
		size = "w1280"
	}
	return tmdbImageBase + "/" + size + path
}

func pageQuery(page int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	return q
}
