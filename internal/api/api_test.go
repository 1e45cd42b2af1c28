package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fankserver/discord-jukebox/internal/engine"
	"github.com/fankserver/discord-jukebox/internal/errcode"
	"github.com/fankserver/discord-jukebox/internal/queue"
)

// fakeController records calls and answers from canned fields.
type fakeController struct {
	enqueueRes *engine.EnqueueResult
	state      *engine.ProjectedState
	err        error

	calls []string
	args  map[string]any
}

func newFakeController() *fakeController {
	return &fakeController{
		enqueueRes: &engine.EnqueueResult{
			Track:      queue.Track{Title: "song", URL: "https://tube.example/watch?v=1", RequestedBy: "u1"},
			InsertedAt: 0,
		},
		state: &engine.ProjectedState{
			Queue:      []queue.Track{},
			QueueUsers: []engine.QueueUser{},
		},
		args: map[string]any{},
	}
}

func (f *fakeController) record(name string, kv ...any) {
	f.calls = append(f.calls, name)
	for i := 0; i+1 < len(kv); i += 2 {
		f.args[kv[i].(string)] = kv[i+1]
	}
}

func (f *fakeController) Enqueue(_ context.Context, guildID, userID, item string) (*engine.EnqueueResult, error) {
	f.record("enqueue", "guild", guildID, "user", userID, "item", item)
	return f.enqueueRes, f.err
}

func (f *fakeController) PlayForUser(_ context.Context, guildID, userID, item string) (*engine.EnqueueResult, error) {
	f.record("play_for_user", "guild", guildID, "user", userID, "item", item)
	return f.enqueueRes, f.err
}

func (f *fakeController) Skip(_ context.Context, guildID, userID string) error {
	f.record("skip", "guild", guildID, "user", userID)
	return f.err
}

func (f *fakeController) Stop(_ context.Context, guildID, userID string) error {
	f.record("stop", "guild", guildID, "user", userID)
	return f.err
}

func (f *fakeController) TogglePause(_ context.Context, guildID, userID string) (bool, error) {
	f.record("toggle_pause", "guild", guildID, "user", userID)
	return true, f.err
}

func (f *fakeController) RemoveAt(_ context.Context, guildID, userID string, index int) error {
	f.record("remove_at", "guild", guildID, "user", userID, "index", index)
	return f.err
}

func (f *fakeController) Move(_ context.Context, guildID, userID string, src, dst int) error {
	f.record("move", "guild", guildID, "user", userID, "src", src, "dst", dst)
	return f.err
}

func (f *fakeController) ToggleRepeat(_ context.Context, guildID, mode string) (bool, error) {
	f.record("toggle_repeat", "guild", guildID, "mode", mode)
	return mode == "on", f.err
}

func (f *fakeController) SetAudioMode(_ context.Context, guildID, mode string) error {
	f.record("audio_mode", "guild", guildID, "mode", mode)
	return f.err
}

func (f *fakeController) Restart(_ context.Context, guildID, userID string) error {
	f.record("restart", "guild", guildID, "user", userID)
	return f.err
}

func (f *fakeController) PlayAt(_ context.Context, guildID, userID string, index int) error {
	f.record("play_at", "guild", guildID, "user", userID, "index", index)
	return f.err
}

func (f *fakeController) Join(_ context.Context, guildID, userID string) (string, error) {
	f.record("join", "guild", guildID, "user", userID)
	return "vc1", f.err
}

func (f *fakeController) State(_ context.Context, guildID string) (*engine.ProjectedState, error) {
	if guildID == "" {
		return nil, errcode.New(errcode.MissingGuildID, "guild id required")
	}
	return f.state, nil
}

func (f *fakeController) Debug(_ context.Context, guildID string) (map[string]any, error) {
	f.record("debug", "guild", guildID)
	return map[string]any{"connected": true}, f.err
}

func newTestServer(ctrl *fakeController) *httptest.Server {
	return httptest.NewServer(New(ctrl, nil, func() map[string]any {
		return map[string]any{"ready": true}
	}).Router())
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestQueueAdd(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	resp, body := postJSON(t, srv.URL+"/queue/add", map[string]any{
		"guild_id": "g1",
		"user_id":  "u1",
		"url":      "https://tube.example/watch?v=1",
	})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.NotNil(t, body["result"])
	assert.NotNil(t, body["state"])
	assert.Equal(t, "g1", ctrl.args["guild"])
	assert.Equal(t, "u1", ctrl.args["user"])
	assert.Equal(t, "https://tube.example/watch?v=1", ctrl.args["item"])
}

func TestItemPrecedenceURLOverQuery(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	_, _ = postJSON(t, srv.URL+"/queue/add", map[string]any{
		"guild_id": "g1",
		"user_id":  "u1",
		"url":      "https://tube.example/watch?v=1",
		"query":    "some words",
	})

	assert.Equal(t, "https://tube.example/watch?v=1", ctrl.args["item"])
}

func TestIdentityPrecedence(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	// Query parameters win over the body.
	data, _ := json.Marshal(map[string]any{"guild_id": "body-guild", "user_id": "body-user"})
	resp, err := http.Post(srv.URL+"/queue/skip?guild_id=query-guild", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "query-guild", ctrl.args["guild"])
	assert.Equal(t, "body-user", ctrl.args["user"])

	// Headers only fill the gaps.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/queue/skip", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Guild-ID", "header-guild")
	req.Header.Set("X-User-ID", "header-user")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "header-guild", ctrl.args["guild"])
	assert.Equal(t, "header-user", ctrl.args["user"])
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing guild", errcode.New(errcode.MissingGuildID, "guild id required"), http.StatusBadRequest, "MISSING_GUILD_ID"},
		{"forbidden", errcode.New(errcode.PriorityForbidden, "nope"), http.StatusForbidden, "PRIORITY_FORBIDDEN"},
		{"quota", errcode.New(errcode.QuotaExceeded, "cap"), http.StatusConflict, "QUOTA_EXCEEDED"},
		{"unavailable", errcode.New(errcode.PlayerUnavailable, "down"), http.StatusServiceUnavailable, "PLAYER_UNAVAILABLE"},
		{"timeout", errcode.New(errcode.EngineTimeout, "deadline"), http.StatusGatewayTimeout, "ENGINE_TIMEOUT"},
		{"internal", errcode.New(errcode.Internal, "boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := newFakeController()
			ctrl.err = tc.err
			srv := newTestServer(ctrl)
			defer srv.Close()

			resp, body := postJSON(t, srv.URL+"/queue/skip", map[string]any{"guild_id": "g1", "user_id": "u1"})
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tc.code, body["error"])
		})
	}
}

func TestRemoveRequiresIndex(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	resp, body := postJSON(t, srv.URL+"/queue/remove", map[string]any{"guild_id": "g1", "user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MISSING_INDEX", body["error"])
	assert.Empty(t, ctrl.calls)

	resp, _ = postJSON(t, srv.URL+"/queue/remove", map[string]any{"guild_id": "g1", "user_id": "u1", "index": 0})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, ctrl.args["index"])
}

func TestMoveRequiresBothIndexes(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	resp, body := postJSON(t, srv.URL+"/queue/move", map[string]any{"guild_id": "g1", "user_id": "u1", "src": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MISSING_INDEX", body["error"])

	resp, _ = postJSON(t, srv.URL+"/queue/move", map[string]any{"guild_id": "g1", "user_id": "u1", "src": 1, "dst": 2})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, ctrl.args["src"])
	assert.Equal(t, 2, ctrl.args["dst"])
}

func TestRepeatDefaultsToToggle(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	_, _ = postJSON(t, srv.URL+"/playlist/repeat", map[string]any{"guild_id": "g1"})
	assert.Equal(t, "toggle", ctrl.args["mode"])

	_, body := postJSON(t, srv.URL+"/playlist/repeat", map[string]any{"guild_id": "g1", "mode": "on"})
	result := body["result"].(map[string]any)
	assert.Equal(t, true, result["repeat_all"])
}

func TestGetPlaylist(t *testing.T) {
	ctrl := newFakeController()
	ctrl.state = &engine.ProjectedState{
		Queue:      []queue.Track{{Title: "queued", RequestedBy: "u1"}},
		Current:    &queue.Track{Title: "current", RequestedBy: "u2"},
		PositionS:  42,
		QueueUsers: []engine.QueueUser{{UserID: "u2"}, {UserID: "u1"}},
	}
	srv := newTestServer(ctrl)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/playlist?guild_id=g1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, float64(42), state["position_s"])
	current := state["current"].(map[string]any)
	assert.Equal(t, "current", current["title"])
}

func TestGetPlaylistMissingGuild(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/playlist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVoiceJoin(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	resp, body := postJSON(t, srv.URL+"/voice/join", map[string]any{"guild_id": "g1", "user_id": "u1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	result := body["result"].(map[string]any)
	assert.Equal(t, "vc1", result["channel_id"])
}

func TestVoiceDebug(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/voice/debug?guild_id=g1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	result := body["result"].(map[string]any)
	gateway := result["gateway"].(map[string]any)
	assert.Equal(t, true, gateway["ready"])
	guild := result["guild"].(map[string]any)
	assert.Equal(t, true, guild["connected"])
}

func TestMalformedBody(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(ctrl)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/queue/add", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, ctrl.calls)
}
