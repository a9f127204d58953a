package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Gatherr/internal/settings"
)

func configureNZBGet(t *testing.T, store *settings.Store, endpoint string) {
	t.Helper()
	_, err := store.Update(settings.ServiceNZBGet, settings.Patch{
		Endpoint: strPtr(endpoint),
		Username: strPtr("nzbget"),
		Password: strPtr("tegbzn"),
	})
	require.NoError(t, err)
}

// newRPCServer records incoming RPC calls and answers from the given results.
func newRPCServer(t *testing.T, results map[string]string) (*httptest.Server, *[]rpcRequest) {
	t.Helper()
	var calls []rpcRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "RPC calls must carry basic auth")
		assert.Equal(t, "nzbget", user)
		assert.Equal(t, "tegbzn", pass)
		assert.Equal(t, "/jsonrpc", r.URL.Path)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls = append(calls, req)

		result, ok := results[req.Method]
		if !ok {
			w.Write([]byte(`{"error": {"code": 1, "message": "unknown method"}}`))
			return
		}
		w.Write([]byte(`{"result": ` + result + `}`))
	}))
	return server, &calls
}

func TestNZBGetVersion(t *testing.T) {
	server, _ := newRPCServer(t, map[string]string{"version": `"21.1"`})
	defer server.Close()

	store := newTestStore(t)
	configureNZBGet(t, store, server.URL)

	version, err := NewNZBGetClient(store, Options{}).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "21.1", version)
}

func TestNZBGetAppendURL_ParamEnvelope(t *testing.T) {
	server, calls := newRPCServer(t, map[string]string{"append": `42`})
	defer server.Close()

	store := newTestStore(t)
	configureNZBGet(t, store, server.URL)
	client := NewNZBGetClient(store, Options{})

	id, err := client.AppendURL(context.Background(), "Movie.2024.1080p", "http://indexer/get/abc.nzb", "movies", 50)
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "append", call.Method)

	// The daemon's positional signature must be matched exactly
	expected := []interface{}{
		"Movie.2024.1080p",
		"http://indexer/get/abc.nzb",
		"movies",
		float64(50),
		false,
		false,
		"",
		float64(0),
		"SCORE",
	}
	assert.Equal(t, expected, call.Params)
}

func TestNZBGetAppend_RejectedID(t *testing.T) {
	server, _ := newRPCServer(t, map[string]string{"append": `0`})
	defer server.Close()

	store := newTestStore(t)
	configureNZBGet(t, store, server.URL)

	_, err := NewNZBGetClient(store, Options{}).AppendURL(context.Background(), "bad", "http://x/y.nzb", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestNZBGetRPCError(t *testing.T) {
	server, _ := newRPCServer(t, nil)
	defer server.Close()

	store := newTestStore(t)
	configureNZBGet(t, store, server.URL)

	_, err := NewNZBGetClient(store, Options{}).Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
}

func TestNZBGetListGroupsAndHistory(t *testing.T) {
	server, calls := newRPCServer(t, map[string]string{
		"listgroups": `[{"NZBID": 7, "NZBName": "Show.S01E01", "Status": "DOWNLOADING", "FileSizeMB": 900, "RemainingSizeMB": 450}]`,
		"history":    `[{"NZBID": 3, "Name": "Old.Movie", "Status": "SUCCESS/ALL"}]`,
	})
	defer server.Close()

	store := newTestStore(t)
	configureNZBGet(t, store, server.URL)
	client := NewNZBGetClient(store, Options{})

	groups, err := client.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Show.S01E01", groups[0].NZBName)
	assert.EqualValues(t, 450, groups[0].RemainingSizeMB)

	history, err := client.History(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "SUCCESS/ALL", history[0].Status)

	// history takes the hidden flag as its only parameter
	assert.Equal(t, []interface{}{false}, (*calls)[1].Params)
}

func TestNZBGetEditQueue(t *testing.T) {
	server, calls := newRPCServer(t, map[string]string{"editqueue": `true`})
	defer server.Close()

	store := newTestStore(t)
	configureNZBGet(t, store, server.URL)
	client := NewNZBGetClient(store, Options{})

	require.NoError(t, client.EditQueue(context.Background(), NZBGetGroupPause, "", []int64{7, 8}))

	require.Len(t, *calls, 1)
	params := (*calls)[0].Params
	assert.Equal(t, "GroupPause", params[0])
	assert.Equal(t, "", params[1])
	assert.Equal(t, []interface{}{float64(7), float64(8)}, params[2])
}

func TestNZBGetPauseResume(t *testing.T) {
	server, _ := newRPCServer(t, map[string]string{
		"pausedownload":  `true`,
		"resumedownload": `false`,
	})
	defer server.Close()

	store := newTestStore(t)
	configureNZBGet(t, store, server.URL)
	client := NewNZBGetClient(store, Options{})

	require.NoError(t, client.PauseDownload(context.Background()))

	err := client.ResumeDownload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
