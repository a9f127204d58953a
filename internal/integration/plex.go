package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mescon/Gatherr/internal/settings"
)

const plexProduct = "Gatherr"

// plexTvEndpoint is a var so tests can point the pairing flow at a fake.
var plexTvEndpoint = "https://plex.tv"

// PlexClient talks to a Plex Media Server using token auth. The PIN pairing
// flow (RequestPIN / CheckPIN / Servers) goes through plex.tv and only needs
// a client identifier, so it works before any credentials are stored.
type PlexClient struct {
	store *settings.Store
	rc    *restClient
}

func NewPlexClient(store *settings.Store, opts Options) *PlexClient {
	return &PlexClient{
		store: store,
		rc:    newRestClient(settings.ServicePlex, opts),
	}
}

func (c *PlexClient) get(ctx context.Context, path string, query url.Values, headers map[string]string, out interface{}) error {
	record := c.store.Get(settings.ServicePlex)
	if record.Endpoint == "" || record.Token == "" {
		return notConfigured(settings.ServicePlex)
	}
	return c.rc.do(ctx, request{
		url:     record.Endpoint + path,
		query:   query,
		headers: headers,
		auth:    authHeader("X-Plex-Token", record.Token),
	}, out)
}

// PlexServerInfo is the response of the /identity endpoint.
type PlexServerInfo struct {
	MediaContainer struct {
		MachineIdentifier string `json:"machineIdentifier"`
		Version           string `json:"version"`
	} `json:"MediaContainer"`
}

func (i *PlexServerInfo) validate() error {
	if i.MediaContainer.MachineIdentifier == "" {
		return fmt.Errorf("body is not a server identity response")
	}
	return nil
}

// PlexLibrary is one library section.
type PlexLibrary struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"` // movie, show, artist, photo
	Count int    `json:"count,omitempty"`
}

// PlexItem is one media item (movie, show, season, episode).
type PlexItem struct {
	RatingKey string `json:"ratingKey"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Year      int    `json:"year,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Thumb     string `json:"thumb,omitempty"`
	Art       string `json:"art,omitempty"`
	Duration  int64  `json:"duration,omitempty"`
	AddedAt   int64  `json:"addedAt,omitempty"`
	ViewCount int    `json:"viewCount,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
	// Episode fields
	GrandparentTitle string `json:"grandparentTitle,omitempty"`
	ParentIndex      int    `json:"parentIndex,omitempty"`
	Index            int    `json:"index,omitempty"`
}

type plexSectionsResponse struct {
	MediaContainer struct {
		Directory []PlexLibrary `json:"Directory"`
	} `json:"MediaContainer"`
}

// PlexContainer is a page of media items plus the totals Plex reports.
type PlexContainer struct {
	Size      int        `json:"size"`
	TotalSize int        `json:"totalSize,omitempty"`
	Offset    int        `json:"offset,omitempty"`
	Items     []PlexItem `json:"Metadata"`
}

type plexContainerResponse struct {
	MediaContainer PlexContainer `json:"MediaContainer"`
}

// Probe checks the server identity endpoint. Returns the server version.
func (c *PlexClient) Probe(ctx context.Context) (string, error) {
	var info PlexServerInfo
	if err := c.get(ctx, "/identity", nil, nil, &info); err != nil {
		return "", err
	}
	return info.MediaContainer.Version, nil
}

// Libraries lists the server's library sections.
func (c *PlexClient) Libraries(ctx context.Context) ([]PlexLibrary, error) {
	var resp plexSectionsResponse
	if err := c.get(ctx, "/library/sections", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.MediaContainer.Directory, nil
}

// LibraryContent fetches one page of a library section.
func (c *PlexClient) LibraryContent(ctx context.Context, sectionKey string, start, size int) (*PlexContainer, error) {
	if size <= 0 {
		size = 50
	}
	headers := map[string]string{
		"X-Plex-Container-Start": strconv.Itoa(start),
		"X-Plex-Container-Size":  strconv.Itoa(size),
	}
	var resp plexContainerResponse
	path := "/library/sections/" + url.PathEscape(sectionKey) + "/all"
	if err := c.get(ctx, path, nil, headers, &resp); err != nil {
		return nil, err
	}
	return &resp.MediaContainer, nil
}

// RecentlyAdded returns the server-wide recently added items.
func (c *PlexClient) RecentlyAdded(ctx context.Context) ([]PlexItem, error) {
	var resp plexContainerResponse
	if err := c.get(ctx, "/library/recentlyAdded", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.MediaContainer.Items, nil
}

// Search searches all libraries for a title.
func (c *PlexClient) Search(ctx context.Context, query string) ([]PlexItem, error) {
	q := url.Values{}
	q.Set("query", query)

	var resp plexContainerResponse
	if err := c.get(ctx, "/search", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.MediaContainer.Items, nil
}

// ItemDetails fetches full metadata for one item by rating key.
func (c *PlexClient) ItemDetails(ctx context.Context, ratingKey string) (*PlexItem, error) {
	var resp plexContainerResponse
	path := "/library/metadata/" + url.PathEscape(ratingKey)
	if err := c.get(ctx, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.MediaContainer.Items) == 0 {
		return nil, &DecodeError{
			Service: settings.ServicePlex,
			Target:  path,
			Err:     fmt.Errorf("no metadata for rating key %s", ratingKey),
		}
	}
	return &resp.MediaContainer.Items[0], nil
}

// ImageURL builds a URL the browser can load directly, with the token
// appended since it cannot send Plex headers.
func (c *PlexClient) ImageURL(thumb string) string {
	record := c.store.Get(settings.ServicePlex)
	if record.Endpoint == "" || thumb == "" {
		return ""
	}
	return record.Endpoint + thumb + "?X-Plex-Token=" + url.QueryEscape(record.Token)
}

// PlexPIN is a pairing code from plex.tv. The user enters Code at
// plex.tv/link; CheckPIN polls by ID until AuthToken is filled in.
type PlexPIN struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	AuthToken string `json:"authToken,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (p *PlexPIN) validate() error {
	if p.ID == 0 {
		return fmt.Errorf("body is not a pin response")
	}
	return nil
}

func plexPairingHeaders(clientID string) map[string]string {
	return map[string]string{
		"X-Plex-Client-Identifier": clientID,
		"X-Plex-Product":           plexProduct,
	}
}

// RequestPIN asks plex.tv for a new pairing code.
func (c *PlexClient) RequestPIN(ctx context.Context, clientID string) (*PlexPIN, error) {
	q := url.Values{}
	q.Set("strong", "true")

	var pin PlexPIN
	err := c.rc.do(ctx, request{
		method:  http.MethodPost,
		url:     plexTvEndpoint + "/api/v2/pins",
		query:   q,
		headers: plexPairingHeaders(clientID),
	}, &pin)
	if err != nil {
		return nil, err
	}
	return &pin, nil
}

// CheckPIN polls a pairing code. AuthToken stays empty until the user has
// linked the code.
func (c *PlexClient) CheckPIN(ctx context.Context, pinID int64, clientID string) (*PlexPIN, error) {
	var pin PlexPIN
	err := c.rc.do(ctx, request{
		url:     fmt.Sprintf("%s/api/v2/pins/%d", plexTvEndpoint, pinID),
		headers: plexPairingHeaders(clientID),
	}, &pin)
	if err != nil {
		return nil, err
	}
	return &pin, nil
}

// PlexServer is one server resource owned by the account, with the
// connection addresses plex.tv knows for it.
type PlexServer struct {
	Name        string `json:"name"`
	Product     string `json:"product"`
	Provides    string `json:"provides"`
	AccessToken string `json:"accessToken"`
	Connections []struct {
		URI   string `json:"uri"`
		Local bool   `json:"local"`
	} `json:"connections"`
}

// Servers lists the account's media servers using a plex.tv auth token.
func (c *PlexClient) Servers(ctx context.Context, authToken, clientID string) ([]PlexServer, error) {
	q := url.Values{}
	q.Set("includeHttps", "1")

	var resources []PlexServer
	err := c.rc.do(ctx, request{
		url:     plexTvEndpoint + "/api/v2/resources",
		query:   q,
		headers: plexPairingHeaders(clientID),
		auth:    authHeader("X-Plex-Token", authToken),
	}, &resources)
	if err != nil {
		return nil, err
	}

	servers := resources[:0]
	for _, r := range resources {
		if r.Provides == "server" || r.Product == "Plex Media Server" {
			servers = append(servers, r)
		}
	}
	return servers, nil
}
