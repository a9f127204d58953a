package integration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mescon/Gatherr/internal/settings"
)

// NZBGetClient talks to NZBGet's JSON-RPC interface at /jsonrpc using HTTP
// basic auth. RPC-level errors (the "error" member of the envelope) are
// turned into Go errors even though the HTTP status is 200.
type NZBGetClient struct {
	store *settings.Store
	rc    *restClient
}

func NewNZBGetClient(store *settings.Store, opts Options) *NZBGetClient {
	return &NZBGetClient{
		store: store,
		rc:    newRestClient(settings.ServiceNZBGet, opts),
	}
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (r *rpcResponse) validate() error {
	if r.Result == nil && r.Error == nil {
		return fmt.Errorf("body is not a JSON-RPC envelope")
	}
	return nil
}

// call performs one RPC. out may be nil when the result is irrelevant.
func (c *NZBGetClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	record := c.store.Get(settings.ServiceNZBGet)
	if record.Endpoint == "" || record.Username == "" || record.Password == "" {
		return notConfigured(settings.ServiceNZBGet)
	}
	if params == nil {
		params = []interface{}{}
	}

	var envelope rpcResponse
	err := c.rc.do(ctx, request{
		method: http.MethodPost,
		url:    record.Endpoint + "/jsonrpc",
		auth:   authBasic(record.Username, record.Password),
		body:   rpcRequest{Method: method, Params: params, ID: 1},
	}, &envelope)
	if err != nil {
		return err
	}
	if envelope.Error != nil {
		return fmt.Errorf("NZBGet rejected %s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return &DecodeError{
				Service: settings.ServiceNZBGet,
				Target:  record.Endpoint + "/jsonrpc",
				Err:     fmt.Errorf("unexpected %s result: %w", method, err),
			}
		}
	}
	return nil
}

// Version returns the NZBGet version string. Used as the connection probe.
func (c *NZBGetClient) Version(ctx context.Context) (string, error) {
	var version string
	if err := c.call(ctx, "version", nil, &version); err != nil {
		return "", err
	}
	return version, nil
}

// NZBGetStatus is the daemon-wide status from the "status" RPC.
type NZBGetStatus struct {
	RemainingSizeMB  int64 `json:"RemainingSizeMB"`
	DownloadedSizeMB int64 `json:"DownloadedSizeMB"`
	DownloadRate     int64 `json:"DownloadRate"`
	DownloadPaused   bool  `json:"DownloadPaused"`
	ThreadCount      int   `json:"ThreadCount"`
	PostJobCount     int   `json:"PostJobCount"`
	UpTimeSec        int64 `json:"UpTimeSec"`
	FreeDiskSpaceMB  int64 `json:"FreeDiskSpaceMB"`
}

// Status fetches the daemon status.
func (c *NZBGetClient) Status(ctx context.Context) (*NZBGetStatus, error) {
	var status NZBGetStatus
	if err := c.call(ctx, "status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// NZBGetGroup is one entry in the active download queue.
type NZBGetGroup struct {
	NZBID            int64  `json:"NZBID"`
	NZBName          string `json:"NZBName"`
	Status           string `json:"Status"`
	Category         string `json:"Category"`
	FileSizeMB       int64  `json:"FileSizeMB"`
	RemainingSizeMB  int64  `json:"RemainingSizeMB"`
	DownloadedSizeMB int64  `json:"DownloadedSizeMB"`
	Health           int    `json:"Health"`
	MaxPriority      int    `json:"MaxPriority"`
}

// ListGroups fetches the active download queue.
func (c *NZBGetClient) ListGroups(ctx context.Context) ([]NZBGetGroup, error) {
	var groups []NZBGetGroup
	if err := c.call(ctx, "listgroups", []interface{}{0}, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// NZBGetHistoryItem is one completed or failed download.
type NZBGetHistoryItem struct {
	NZBID       int64  `json:"NZBID"`
	Name        string `json:"Name"`
	Status      string `json:"Status"` // SUCCESS/..., WARNING/..., FAILURE/...
	Category    string `json:"Category"`
	FileSizeMB  int64  `json:"FileSizeMB"`
	HistoryTime int64  `json:"HistoryTime"`
	DestDir     string `json:"DestDir"`
}

// History fetches the download history. hidden includes deleted entries.
func (c *NZBGetClient) History(ctx context.Context, hidden bool) ([]NZBGetHistoryItem, error) {
	var items []NZBGetHistoryItem
	if err := c.call(ctx, "history", []interface{}{hidden}, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// append posts the "append" RPC. NZBGet's signature is positional:
// name, content (URL or base64 NZB), category, priority, addToTop,
// addPaused, dupeKey, dupeScore, dupeMode. A non-positive result means
// the daemon rejected the NZB.
func (c *NZBGetClient) append(ctx context.Context, name, content, category string, priority int) (int64, error) {
	params := []interface{}{name, content, category, priority, false, false, "", 0, "SCORE"}

	var nzbID int64
	if err := c.call(ctx, "append", params, &nzbID); err != nil {
		return 0, err
	}
	if nzbID <= 0 {
		return 0, fmt.Errorf("NZBGet rejected %q (append returned %d)", name, nzbID)
	}
	return nzbID, nil
}

// AppendURL queues a download from an NZB URL and returns the queue id.
func (c *NZBGetClient) AppendURL(ctx context.Context, name, nzbURL, category string, priority int) (int64, error) {
	return c.append(ctx, name, nzbURL, category, priority)
}

// AppendContent queues a download from raw NZB file content.
func (c *NZBGetClient) AppendContent(ctx context.Context, name string, nzbContent []byte, category string, priority int) (int64, error) {
	encoded := base64.StdEncoding.EncodeToString(nzbContent)
	return c.append(ctx, name, encoded, category, priority)
}

// PauseDownload pauses the whole download queue.
func (c *NZBGetClient) PauseDownload(ctx context.Context) error {
	var ok bool
	if err := c.call(ctx, "pausedownload", nil, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("NZBGet refused to pause downloads")
	}
	return nil
}

// ResumeDownload resumes the whole download queue.
func (c *NZBGetClient) ResumeDownload(ctx context.Context) error {
	var ok bool
	if err := c.call(ctx, "resumedownload", nil, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("NZBGet refused to resume downloads")
	}
	return nil
}

// Queue edit commands for EditQueue.
const (
	NZBGetGroupPause       = "GroupPause"
	NZBGetGroupResume      = "GroupResume"
	NZBGetGroupDelete      = "GroupDelete"
	NZBGetGroupSetPriority = "GroupSetPriority"
)

// EditQueue applies a command to queue entries. param is command-specific
// (the priority for GroupSetPriority, empty otherwise).
func (c *NZBGetClient) EditQueue(ctx context.Context, command, param string, ids []int64) error {
	var ok bool
	if err := c.call(ctx, "editqueue", []interface{}{command, param, ids}, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("NZBGet rejected queue command %s", command)
	}
	return nil
}
