package integration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mescon/Gatherr/internal/settings"
)

// XtreamClient talks to Xtream-Codes compatible IPTV panels. Panels are
// wildly inconsistent: they sit behind unknown schemes and ports, expose
// either player_api.php or the legacy panel_api.php, and serialize numbers
// as strings or booleans as integers depending on the fork. Every call
// therefore probes the candidate origins, and the probe additionally tries
// the known endpoint variants per origin.
type XtreamClient struct {
	store *settings.Store
	rc    *restClient
}

func NewXtreamClient(store *settings.Store, opts Options) *XtreamClient {
	return &XtreamClient{
		store: store,
		rc:    newRestClient(settings.ServiceIPTV, opts),
	}
}

func (c *XtreamClient) credentials() (settings.Record, error) {
	record := c.store.Get(settings.ServiceIPTV)
	if record.Endpoint == "" || record.Username == "" || record.Password == "" {
		return settings.Record{}, notConfigured(settings.ServiceIPTV)
	}
	return record, nil
}

func xtreamQuery(record settings.Record, action string, extra url.Values) url.Values {
	q := url.Values{}
	q.Set("username", record.Username)
	q.Set("password", record.Password)
	if action != "" {
		q.Set("action", action)
	}
	for key, values := range extra {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	return q
}

// apiCall runs a player_api.php action across the candidate origins.
func (c *XtreamClient) apiCall(ctx context.Context, action string, extra url.Values, out interface{}) error {
	record, err := c.credentials()
	if err != nil {
		return err
	}

	var attempts []labeledRequest
	for _, origin := range OriginCandidates(record.Endpoint) {
		attempts = append(attempts, labeledRequest{
			label: origin,
			req: request{
				url:   origin + "/player_api.php",
				query: xtreamQuery(record, action, extra),
			},
		})
	}
	_, err = c.rc.first(ctx, attempts, out)
	return err
}

// flexString decodes JSON values that panels serialize as either a string
// or a number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// Int returns the numeric value, 0 when not numeric.
func (f flexString) Int() int64 {
	n, _ := strconv.ParseInt(string(f), 10, 64)
	return n
}

// flexBool decodes true/false, 0/1 and "0"/"1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(data)), `"`) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// XtreamUserInfo is the account block every probe variant ultimately yields.
type XtreamUserInfo struct {
	Username       flexString `json:"username"`
	Status         string     `json:"status"`
	Auth           flexBool   `json:"auth"`
	ExpDate        flexString `json:"exp_date"`
	MaxConnections flexString `json:"max_connections"`
	ActiveConns    flexString `json:"active_cons"`
	IsTrial        flexString `json:"is_trial"`
}

// Authorized reports whether the panel accepted the credentials.
func (u XtreamUserInfo) Authorized() bool {
	return bool(u.Auth) || strings.EqualFold(u.Status, "Active")
}

// xtreamProbeResponse accepts both shapes panels return: the modern nested
// {"user_info": {...}} and the legacy flat user-info object.
type xtreamProbeResponse struct {
	UserInfo *XtreamUserInfo `json:"user_info"`
	XtreamUserInfo
}

func (r *xtreamProbeResponse) userInfo() XtreamUserInfo {
	if r.UserInfo != nil {
		return *r.UserInfo
	}
	return r.XtreamUserInfo
}

func (r *xtreamProbeResponse) validate() error {
	info := r.userInfo()
	if info.Username == "" && info.Status == "" && !bool(info.Auth) {
		return fmt.Errorf("body has no user info")
	}
	if !info.Authorized() {
		return fmt.Errorf("credentials rejected (status %q)", info.Status)
	}
	return nil
}

// Probe authenticates against the panel, trying each candidate origin and,
// per origin, each endpoint variant: player_api.php with the get_user_info
// action, plain player_api.php, and legacy panel_api.php. The first variant
// that authenticates wins and nothing further is attempted. Returns the
// account info and the origin+endpoint that answered.
func (c *XtreamClient) Probe(ctx context.Context) (*XtreamUserInfo, string, error) {
	record, err := c.credentials()
	if err != nil {
		return nil, "", err
	}

	variants := []struct {
		path   string
		action string
	}{
		{"/player_api.php", "get_user_info"},
		{"/player_api.php", ""},
		{"/panel_api.php", ""},
	}

	var attempts []labeledRequest
	for _, origin := range OriginCandidates(record.Endpoint) {
		for _, v := range variants {
			attempts = append(attempts, labeledRequest{
				label: origin + v.path,
				req: request{
					url:   origin + v.path,
					query: xtreamQuery(record, v.action, nil),
				},
			})
		}
	}

	var resp xtreamProbeResponse
	target, err := c.rc.first(ctx, attempts, &resp)
	if err != nil {
		return nil, "", err
	}
	info := resp.userInfo()
	return &info, target, nil
}

// XtreamCategory is one live/VOD/series category.
type XtreamCategory struct {
	CategoryID   flexString `json:"category_id"`
	CategoryName string     `json:"category_name"`
	ParentID     flexString `json:"parent_id"`
}

// XtreamStream is one live channel or VOD entry.
type XtreamStream struct {
	StreamID           flexString `json:"stream_id"`
	Name               string     `json:"name"`
	StreamType         string     `json:"stream_type"`
	StreamIcon         string     `json:"stream_icon"`
	EPGChannelID       string     `json:"epg_channel_id"`
	CategoryID         flexString `json:"category_id"`
	ContainerExtension string     `json:"container_extension"`
	Rating             flexString `json:"rating"`
	Added              flexString `json:"added"`
}

// XtreamSeries is one series list entry.
type XtreamSeries struct {
	SeriesID    flexString `json:"series_id"`
	Name        string     `json:"name"`
	Cover       string     `json:"cover"`
	Plot        string     `json:"plot"`
	Genre       string     `json:"genre"`
	ReleaseDate string     `json:"releaseDate"`
	Rating      flexString `json:"rating"`
	CategoryID  flexString `json:"category_id"`
}

// XtreamEpisode is one episode inside a series info response.
type XtreamEpisode struct {
	ID                 flexString `json:"id"`
	EpisodeNum         flexString `json:"episode_num"`
	Title              string     `json:"title"`
	Season             flexString `json:"season"`
	ContainerExtension string     `json:"container_extension"`
}

// XtreamSeriesInfo is the get_series_info response.
type XtreamSeriesInfo struct {
	Info struct {
		Name  string `json:"name"`
		Cover string `json:"cover"`
		Plot  string `json:"plot"`
		Genre string `json:"genre"`
	} `json:"info"`
	Episodes map[string][]XtreamEpisode `json:"episodes"`
}

// XtreamEPGEntry is one listing from get_simple_data_table. Title and
// description come base64-encoded from the panel.
type XtreamEPGEntry struct {
	ID             flexString `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Start          string     `json:"start"`
	End            string     `json:"end"`
	StartTimestamp flexString `json:"start_timestamp"`
	StopTimestamp  flexString `json:"stop_timestamp"`
}

// DecodedTitle returns the base64-decoded title, or the raw value when it
// is not valid base64.
func (e XtreamEPGEntry) DecodedTitle() string {
	return decodeBase64Field(e.Title)
}

// DecodedDescription returns the base64-decoded description.
func (e XtreamEPGEntry) DecodedDescription() string {
	return decodeBase64Field(e.Description)
}

func decodeBase64Field(s string) string {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	return string(decoded)
}

type xtreamEPGResponse struct {
	Listings []XtreamEPGEntry `json:"epg_listings"`
}

// LiveCategories lists the live TV categories.
func (c *XtreamClient) LiveCategories(ctx context.Context) ([]XtreamCategory, error) {
	var categories []XtreamCategory
	if err := c.apiCall(ctx, "get_live_categories", nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// VODCategories lists the video-on-demand categories.
func (c *XtreamClient) VODCategories(ctx context.Context) ([]XtreamCategory, error) {
	var categories []XtreamCategory
	if err := c.apiCall(ctx, "get_vod_categories", nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// SeriesCategories lists the series categories.
func (c *XtreamClient) SeriesCategories(ctx context.Context) ([]XtreamCategory, error) {
	var categories []XtreamCategory
	if err := c.apiCall(ctx, "get_series_categories", nil, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func categoryFilter(categoryID string) url.Values {
	q := url.Values{}
	if categoryID != "" {
		q.Set("category_id", categoryID)
	}
	return q
}

// LiveStreams lists live channels, optionally filtered to one category.
func (c *XtreamClient) LiveStreams(ctx context.Context, categoryID string) ([]XtreamStream, error) {
	var streams []XtreamStream
	if err := c.apiCall(ctx, "get_live_streams", categoryFilter(categoryID), &streams); err != nil {
		return nil, err
	}
	return streams, nil
}

// VODStreams lists VOD entries, optionally filtered to one category.
func (c *XtreamClient) VODStreams(ctx context.Context, categoryID string) ([]XtreamStream, error) {
	var streams []XtreamStream
	if err := c.apiCall(ctx, "get_vod_streams", categoryFilter(categoryID), &streams); err != nil {
		return nil, err
	}
	return streams, nil
}

// SeriesList lists series, optionally filtered to one category.
func (c *XtreamClient) SeriesList(ctx context.Context, categoryID string) ([]XtreamSeries, error) {
	var series []XtreamSeries
	if err := c.apiCall(ctx, "get_series", categoryFilter(categoryID), &series); err != nil {
		return nil, err
	}
	return series, nil
}

// SeriesInfo fetches seasons and episodes for one series.
func (c *XtreamClient) SeriesInfo(ctx context.Context, seriesID string) (*XtreamSeriesInfo, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)

	var info XtreamSeriesInfo
	if err := c.apiCall(ctx, "get_series_info", q, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ShortEPG fetches the short program guide for one live stream.
func (c *XtreamClient) ShortEPG(ctx context.Context, streamID string) ([]XtreamEPGEntry, error) {
	q := url.Values{}
	q.Set("stream_id", streamID)

	var resp xtreamEPGResponse
	if err := c.apiCall(ctx, "get_simple_data_table", q, &resp); err != nil {
		return nil, err
	}
	return resp.Listings, nil
}

// FindVOD searches the VOD list for a title. Exact case-insensitive matches
// win over substring matches.
func (c *XtreamClient) FindVOD(ctx context.Context, title string) (*XtreamStream, error) {
	streams, err := c.VODStreams(ctx, "")
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(title))
	var partial *XtreamStream
	for i := range streams {
		name := strings.ToLower(streams[i].Name)
		if name == needle {
			return &streams[i], nil
		}
		if partial == nil && strings.Contains(name, needle) {
			partial = &streams[i]
		}
	}
	if partial == nil {
		return nil, fmt.Errorf("no VOD entry matches %q", title)
	}
	return partial, nil
}

// Stream kinds for StreamURL.
const (
	XtreamKindLive   = "live"
	XtreamKindMovie  = "movie"
	XtreamKindSeries = "series"
)

// StreamURL builds a playable URL for a stream. Panels serve
// {base}/{kind}/{user}/{pass}/{id}.{ext}; live streams default to ts and
// everything else to mp4 when the panel did not report an extension.
func (c *XtreamClient) StreamURL(kind, streamID, extension string) (string, error) {
	record, err := c.credentials()
	if err != nil {
		return "", err
	}
	if extension == "" {
		if kind == XtreamKindLive {
			extension = "ts"
		} else {
			extension = "mp4"
		}
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s",
		record.Endpoint, kind,
		url.PathEscape(record.Username), url.PathEscape(record.Password),
		url.PathEscape(streamID), extension), nil
}
