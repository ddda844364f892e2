package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultforge/syncd/pkg/config"
	"github.com/vaultforge/syncd/pkg/hub"
	"github.com/vaultforge/syncd/pkg/identity"
	"github.com/vaultforge/syncd/pkg/publish"
	"github.com/vaultforge/syncd/pkg/storage"
	"github.com/vaultforge/syncd/pkg/sync"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Config{
		MaxStorageGB:      10,
		MaxSitesPerUser:   5,
		SnapshotOnConnect: true,
		IdleTimeout:       time.Minute,
		MaxFrameBytes:     1 << 20,
	}
	ids := identity.NewService(store, []byte("test-secret-32-bytes-long-xxxxx!"), "")
	h := hub.New()
	engine := sync.NewEngine(store, ids, h, cfg)
	pub := publish.NewService(store, cfg)
	pubRtr := publish.NewRouter(store)

	s := NewServer(store, ids, engine, pub, pubRtr, cfg)
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return s, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSignupSigninRoundTrip(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/user/signup", map[string]string{
		"email": "a@x", "password": "p", "name": "A",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var signupBody map[string]string
	decodeBody(t, resp, &signupBody)
	assert.Equal(t, "a@x", signupBody["email"])
	assert.Equal(t, "A", signupBody["name"])

	resp2 := postJSON(t, srv.URL+"/user/signin", map[string]string{
		"email": "a@x", "password": "p",
	})
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var signinBody map[string]string
	decodeBody(t, resp2, &signinBody)
	assert.NotEmpty(t, signinBody["token"])
}

func TestSigninBadCredentialsIsUniform(t *testing.T) {
	_, srv := newTestServer(t)

	postJSON(t, srv.URL+"/user/signup", map[string]string{
		"email": "a@x", "password": "correct", "name": "A",
	})

	unknown := postJSON(t, srv.URL+"/user/signin", map[string]string{
		"email": "nobody@x", "password": "whatever",
	})
	wrong := postJSON(t, srv.URL+"/user/signin", map[string]string{
		"email": "a@x", "password": "incorrect",
	})

	var unknownBody, wrongBody map[string]string
	decodeBody(t, unknown, &unknownBody)
	decodeBody(t, wrong, &wrongBody)

	assert.Equal(t, http.StatusBadRequest, unknown.StatusCode)
	assert.Equal(t, http.StatusBadRequest, wrong.StatusCode)
	assert.Equal(t, wrongBody["detail"], unknownBody["detail"])
}

func TestVaultCreateAccessRoundTrip(t *testing.T) {
	_, srv := newTestServer(t)

	postJSON(t, srv.URL+"/user/signup", map[string]string{
		"email": "a@x", "password": "p", "name": "A",
	})
	var signin map[string]string
	decodeBody(t, postJSON(t, srv.URL+"/user/signin", map[string]string{
		"email": "a@x", "password": "p",
	}), &signin)
	token := signin["token"]

	resp := postJSON(t, srv.URL+"/vault/create", map[string]string{
		"token": token, "name": "V", "salt": "s", "keyhash": "deadbeef",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vault map[string]any
	decodeBody(t, resp, &vault)
	vaultID, _ := vault["id"].(string)
	require.NotEmpty(t, vaultID)
	assert.EqualValues(t, 0, vault["version"])

	bad := postJSON(t, srv.URL+"/vault/access", map[string]string{
		"token": token, "vault_uid": vaultID, "keyhash": "wrong",
	})
	assert.NotEqual(t, http.StatusOK, bad.StatusCode)

	good := postJSON(t, srv.URL+"/vault/access", map[string]string{
		"token": token, "vault_uid": vaultID, "keyhash": "deadbeef",
	})
	require.Equal(t, http.StatusOK, good.StatusCode)
	var access map[string]any
	decodeBody(t, good, &access)
	assert.Equal(t, true, access["allowed"])
}

func TestVaultCreateWithNoSaltGeneratesCredentials(t *testing.T) {
	_, srv := newTestServer(t)

	postJSON(t, srv.URL+"/user/signup", map[string]string{
		"email": "a@x", "password": "p", "name": "A",
	})
	var signin map[string]string
	decodeBody(t, postJSON(t, srv.URL+"/user/signin", map[string]string{
		"email": "a@x", "password": "p",
	}), &signin)
	token := signin["token"]

	resp := postJSON(t, srv.URL+"/vault/create", map[string]string{
		"token": token, "name": "V",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vault map[string]any
	decodeBody(t, resp, &vault)
	assert.NotEmpty(t, vault["id"])
}

func TestUploadThenPublishListServesFile(t *testing.T) {
	_, srv := newTestServer(t)

	postJSON(t, srv.URL+"/user/signup", map[string]string{
		"email": "a@x", "password": "p", "name": "A",
	})
	var signin map[string]string
	decodeBody(t, postJSON(t, srv.URL+"/user/signin", map[string]string{
		"email": "a@x", "password": "p",
	}), &signin)
	token := signin["token"]

	resp := postJSON(t, srv.URL+"/publish/create", map[string]string{"token": token})
	var site map[string]any
	decodeBody(t, resp, &site)
	siteID, _ := site["id"].(string)
	require.NotEmpty(t, siteID)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/upload", bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)
	req.Header.Set("obs-token", token)
	req.Header.Set("obs-id", siteID)
	req.Header.Set("obs-path", "index.html")
	req.Header.Set("obs-hash", "h")
	uploadResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, uploadResp.StatusCode)
	uploadResp.Body.Close()

	slugResp := postJSON(t, srv.URL+"/api/slug", map[string]string{
		"token": token, "id": siteID, "slug": "myblog",
	})
	require.Equal(t, http.StatusOK, slugResp.StatusCode)
	slugResp.Body.Close()

	public, err := http.Get(srv.URL + "/publish/myblog/index.html")
	require.NoError(t, err)
	defer public.Body.Close()
	assert.Equal(t, http.StatusOK, public.StatusCode)
}

func TestCORSHeadersOnAllowedOrigin(t *testing.T) {
	_, srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/user/signup", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
