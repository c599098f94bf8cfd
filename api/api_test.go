package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/dbadmin/driver/sqlite"
	"github.com/jmcleod/dbadmin/internal/config"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *http.Client) {
	t.Helper()
	cfg := &config.Config{
		SessionTTL:    time.Minute,
		BruteForceMax: 10,
		BruteForceTTL: time.Minute,
		SessionSecret: []byte("0123456789abcdef0123456789abcdef"),
	}
	if mutate != nil {
		mutate(cfg)
	}

	a := New(cfg)
	ts := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		ts.Close()
		a.Close()
		sqlite.CloseAll()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := ts.Client()
	client.Jar = jar
	return ts, client
}

func postJSON(t *testing.T, client *http.Client, url, csrf string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func login(t *testing.T, client *http.Client, baseURL, dbPath string) string {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/auth/login", "", map[string]string{
		"driver": "sqlite",
		"server": dbPath,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		CSRFToken string `json:"csrfToken"`
		Conn      struct {
			Driver string `json:"driver"`
		} `json:"conn"`
	}
	decodeJSON(t, resp, &body)
	require.NotEmpty(t, body.CSRFToken)
	require.Equal(t, "sqlite", body.Conn.Driver)
	return body.CSRFToken
}

func TestLoginBrowseLogoutFlow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "app.db")
	ts, client := newTestServer(t, nil)

	csrf := login(t, client, ts.URL, dbPath)

	// Status reflects the live connection.
	resp, err := client.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	var status struct {
		Authenticated bool `json:"authenticated"`
	}
	decodeJSON(t, resp, &status)
	assert.True(t, status.Authenticated)

	// Raw SQL creates and seeds a table.
	resp = postJSON(t, client, ts.URL+"/api/sql", csrf, map[string]any{
		"query": `CREATE TABLE items (id integer primary key, name text);
INSERT INTO items (name) VALUES ('widget');
INSERT INTO items (name) VALUES ('gadget')`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sqlBody struct {
		Results []struct {
			Error string `json:"error"`
		} `json:"results"`
	}
	decodeJSON(t, resp, &sqlBody)
	require.Len(t, sqlBody.Results, 3)
	for _, r := range sqlBody.Results {
		assert.Empty(t, r.Error)
	}

	// Table list sees it.
	resp, err = client.Get(ts.URL + "/api/tables")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tables struct {
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	decodeJSON(t, resp, &tables)
	require.Len(t, tables.Tables, 1)
	assert.Equal(t, "items", tables.Tables[0].Name)

	// Browse returns the rows and the total.
	resp, err = client.Get(ts.URL + "/api/select/items?order=id")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Rows  []map[string]any `json:"rows"`
		Total int64            `json:"total"`
	}
	decodeJSON(t, resp, &page)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "widget", page.Rows[0]["name"])
	assert.Equal(t, int64(2), page.Total)

	// Mutations without the CSRF token are refused.
	resp = postJSON(t, client, ts.URL+"/api/sql", "", map[string]any{"query": "DROP TABLE items"})
	var errBody ErrorResponse
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	decodeJSON(t, resp, &errBody)
	assert.Equal(t, CodeCSRFMismatch, errBody.Code)

	// Logout tears the session down.
	resp = postJSON(t, client, ts.URL+"/api/auth/logout", "", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.Get(ts.URL + "/api/tables")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRequestsStickToLoginDatabase(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.db")
	otherPath := filepath.Join(dir, "other.db")
	ts, client := newTestServer(t, nil)

	// Log in against one file but select another as the working database;
	// every later request must land on the selected one.
	resp := postJSON(t, client, ts.URL+"/api/auth/login", "", map[string]string{
		"driver": "sqlite",
		"server": mainPath,
		"db":     otherPath,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loginBody struct {
		CSRFToken string `json:"csrfToken"`
	}
	decodeJSON(t, resp, &loginBody)

	resp = postJSON(t, client, ts.URL+"/api/sql", loginBody.CSRFToken, map[string]any{
		"query": "CREATE TABLE notes (id integer primary key, body text)",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sqlBody struct {
		Results []struct {
			Error string `json:"error"`
		} `json:"results"`
	}
	decodeJSON(t, resp, &sqlBody)
	require.Len(t, sqlBody.Results, 1)
	require.Empty(t, sqlBody.Results[0].Error)

	resp, err := client.Get(ts.URL + "/api/tables")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tables struct {
		DB     string `json:"db"`
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	decodeJSON(t, resp, &tables)
	assert.Equal(t, otherPath, tables.DB)
	require.Len(t, tables.Tables, 1)
	assert.Equal(t, "notes", tables.Tables[0].Name)

	// The db query override targets another database for one request.
	resp, err = client.Get(ts.URL + "/api/tables?db=" + url.QueryEscape(mainPath))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mainTables struct {
		DB     string `json:"db"`
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	decodeJSON(t, resp, &mainTables)
	assert.Equal(t, mainPath, mainTables.DB)
	assert.Empty(t, mainTables.Tables)
}

func TestMemoryDatabaseSurvivesAcrossRequests(t *testing.T) {
	ts, client := newTestServer(t, nil)

	csrf := login(t, client, ts.URL, ":memory:")

	resp, err := client.Get(ts.URL + "/api/databases")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dbs struct {
		Databases []string `json:"databases"`
	}
	decodeJSON(t, resp, &dbs)
	assert.Equal(t, []string{":memory:"}, dbs.Databases)

	// Each request reconnects from the session; the pinned in-process
	// handle keeps the data alive between them.
	resp = postJSON(t, client, ts.URL+"/api/sql", csrf, map[string]any{
		"query": `CREATE TABLE scratch (id integer primary key, v text);
INSERT INTO scratch (v) VALUES ('kept')`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sqlBody struct {
		Results []struct {
			Error string `json:"error"`
		} `json:"results"`
	}
	decodeJSON(t, resp, &sqlBody)
	require.Len(t, sqlBody.Results, 2)
	for _, r := range sqlBody.Results {
		require.Empty(t, r.Error)
	}

	resp, err = client.Get(ts.URL + "/api/select/scratch")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Rows []map[string]any `json:"rows"`
	}
	decodeJSON(t, resp, &page)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "kept", page.Rows[0]["v"])
}

func TestUnauthenticatedRejected(t *testing.T) {
	ts, client := newTestServer(t, nil)

	resp, err := client.Get(ts.URL + "/api/tables")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var errBody ErrorResponse
	decodeJSON(t, resp, &errBody)
	assert.Equal(t, CodeNotAuthenticated, errBody.Code)
}

func TestMissingBrowserKeyRejected(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "app.db")
	ts, client := newTestServer(t, nil)
	login(t, client, ts.URL, dbPath)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	// Replay only the session cookie: without the browser key the
	// stored password cannot be decrypted.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/tables", nil)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == sessionCookieName {
			req.AddCookie(c)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginBruteForceLockout(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-dir", "app.db")
	ts, client := newTestServer(t, func(cfg *config.Config) {
		cfg.BruteForceMax = 2
	})

	for i := 0; i < 2; i++ {
		resp := postJSON(t, client, ts.URL+"/api/auth/login", "", map[string]string{
			"driver": "sqlite",
			"server": missing,
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	resp := postJSON(t, client, ts.URL+"/api/auth/login", "", map[string]string{
		"driver": "sqlite",
		"server": missing,
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var errBody ErrorResponse
	decodeJSON(t, resp, &errBody)
	assert.Equal(t, CodeBruteForce, errBody.Code)
}

func TestLoginUnknownDriver(t *testing.T) {
	ts, client := newTestServer(t, nil)
	resp := postJSON(t, client, ts.URL+"/api/auth/login", "", map[string]string{
		"driver": "oracle",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPresetConnect(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "app.db")
	ts, client := newTestServer(t, func(cfg *config.Config) {
		cfg.Connections = []config.Preset{
			{ID: "local", Label: "Local SQLite", Driver: "sqlite", Server: dbPath},
		}
	})

	// The preset list never carries passwords.
	resp, err := client.Get(ts.URL + "/api/connections")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var presets []config.Preset
	decodeJSON(t, resp, &presets)
	require.Len(t, presets, 1)
	assert.Equal(t, "local", presets[0].ID)

	resp = postJSON(t, client, ts.URL+"/api/connections/local/connect", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		OK    bool   `json:"ok"`
		Label string `json:"label"`
	}
	decodeJSON(t, resp, &body)
	assert.True(t, body.OK)
	assert.Equal(t, "Local SQLite", body.Label)

	// The session is now live.
	resp, err = client.Get(ts.URL + "/api/tables")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthAndDrivers(t *testing.T) {
	ts, client := newTestServer(t, nil)

	resp, err := client.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		OK      bool   `json:"ok"`
		Version string `json:"version"`
	}
	decodeJSON(t, resp, &health)
	assert.True(t, health.OK)
	assert.Equal(t, config.Version, health.Version)

	resp, err = client.Get(ts.URL + "/api/drivers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var drivers []struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &drivers)
	ids := make([]string, len(drivers))
	for i, d := range drivers {
		ids[i] = d.ID
	}
	assert.Contains(t, ids, "sqlite")
}
