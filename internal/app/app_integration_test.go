//go:build integration

package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bissquit/authkeeper/internal/config"
	"github.com/bissquit/authkeeper/internal/domain"
	"github.com/bissquit/authkeeper/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	openAPISpecPath = "../../api/openapi/openapi.yaml"
	testSecret      = "dGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQtdGVzdC1zZWNyZXQtMTIzNDU2"
)

var (
	testDB        *pgxpool.Pool
	testValidator *testutil.OpenAPIValidator
	// servers by refresh token backend
	servers = map[string]*httptest.Server{}
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	pg, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	rd, err := testutil.NewRedisContainer(ctx)
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}

	testValidator, err = testutil.LoadOpenAPIValidator(openAPISpecPath)
	if err != nil {
		log.Fatalf("load OpenAPI validator: %v", err)
	}

	var apps []*App
	for i, backend := range []string{config.BackendPostgres, config.BackendRedis} {
		cfg := config.Default()
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.Port = "0"
		cfg.Server.MetricsPort = "0"
		cfg.Database.URL = pg.ConnectionString
		cfg.Database.MaxOpenConns = 5
		cfg.Database.ConnectAttempts = 3
		// Only the first app applies migrations.
		cfg.Database.MigrateOnStart = i == 0
		cfg.Database.MigrationsPath = "../../migrations"
		cfg.Log.Level = "error"
		cfg.Log.Format = "text"
		cfg.JWT.Secret = testSecret
		cfg.RefreshTokens.Backend = backend
		cfg.Redis.Addr = rd.Addr
		cfg.Redis.KeyPrefix = "it:"
		cfg.RateLimit.RequestsPerSecond = 0

		application, err := New(&cfg)
		if err != nil {
			log.Fatalf("create %s app: %v", backend, err)
		}
		apps = append(apps, application)
		servers[backend] = httptest.NewServer(application.Router())
	}

	testDB, err = pgxpool.New(ctx, pg.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}

	code := m.Run()

	for _, srv := range servers {
		srv.Close()
	}
	testDB.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, application := range apps {
		if err := application.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown app: %v", err)
		}
	}
	if err := rd.Terminate(ctx); err != nil {
		log.Printf("terminate redis: %v", err)
	}
	if err := pg.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}

	os.Exit(code)
}

func newTestClient(t *testing.T, backend string) *testutil.Client {
	t.Helper()
	client := testutil.NewClientWithValidator(servers[backend].URL, testValidator)
	client.SetT(t)
	return client
}

// uniqueLogin keeps logins distinct across backends sharing one database.
func uniqueLogin(prefix, backend string) string {
	return fmt.Sprintf("%s-%s-%d", prefix, backend, time.Now().UnixNano())
}

func grantAdmin(t *testing.T, login string) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO user_to_role (user_id, role_id)
		SELECT u.id, r.id FROM users u, user_role r
		WHERE u.login = $1 AND r.name = 'ADMIN'
	`, login)
	require.NoError(t, err)
}

func refreshTokenRows(t *testing.T, login string) int {
	t.Helper()
	var n int
	err := testDB.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM refresh_token rt JOIN users u ON u.id = rt.user_id WHERE u.login = $1
	`, login).Scan(&n)
	require.NoError(t, err)
	return n
}

func responseCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend string)) {
	for _, backend := range []string{config.BackendPostgres, config.BackendRedis} {
		t.Run(backend, func(t *testing.T) {
			fn(t, backend)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		client := newTestClient(t, backend)
		login := uniqueLogin("jane", backend)

		resp, err := client.POST("/auth/signup", map[string]string{
			"login": login, "email": login + "@x.com", "password": "pw",
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()

		resp, err = client.POST("/auth/login", map[string]string{"login": login, "password": "pw"})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "User logged in successfully!", testutil.ReadBody(t, resp))
		access := responseCookie(resp, "jwt")
		refresh := responseCookie(resp, "jwt-refresh")
		require.NotNil(t, access)
		require.NotNil(t, refresh)
		assert.True(t, access.HttpOnly)
		assert.Equal(t, 86400, access.MaxAge)

		resp, err = client.GET("/user-roles/" + login)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var roles []domain.Role
		testutil.DecodeJSON(t, resp, &roles)
		require.Len(t, roles, 1)
		assert.Equal(t, domain.RoleUser, roles[0].Name)

		resp, err = client.POST("/auth/refreshToken", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Token is refreshed successfully!", testutil.ReadBody(t, resp))
		assert.NotNil(t, responseCookie(resp, "jwt"))
		assert.Nil(t, responseCookie(resp, "jwt-refresh"), "refresh token is not rotated")
		assert.Equal(t, refresh.Value, client.Cookie("jwt-refresh"))

		resp, err = client.POST("/auth/logout", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "You've been signed out!", testutil.ReadBody(t, resp))
		for _, name := range []string{"jwt", "jwt-refresh"} {
			cleared := responseCookie(resp, name)
			require.NotNil(t, cleared, name)
			assert.Empty(t, cleared.Value)
		}
		if backend == config.BackendPostgres {
			assert.Zero(t, refreshTokenRows(t, login))
		}

		// The old refresh token is gone server side.
		stale := testutil.NewClient(servers[backend].URL)
		req, err := http.NewRequest(http.MethodPost, servers[backend].URL+"/auth/refreshToken", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "jwt-refresh", Value: refresh.Value})
		resp, err = stale.HTTPClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()

		resp, err = client.GET("/user-roles/" + login)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestLogin_ReplacesRefreshToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		client := newTestClient(t, backend)
		login := uniqueLogin("twice", backend)
		client.Signup(t, login, login+"@x.com", "pw")

		client.LoginAs(t, login, "pw")
		first := client.Cookie("jwt-refresh")
		client.LoginAs(t, login, "pw")
		second := client.Cookie("jwt-refresh")

		require.NotEqual(t, first, second)
		if backend == config.BackendPostgres {
			assert.Equal(t, 1, refreshTokenRows(t, login))
		}

		req, err := http.NewRequest(http.MethodPost, servers[backend].URL+"/auth/refreshToken", nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "jwt-refresh", Value: first})
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestSignup_Conflicts(t *testing.T) {
	client := newTestClient(t, config.BackendPostgres)
	login := uniqueLogin("dup", "pg")
	client.Signup(t, login, login+"@x.com", "pw")

	tests := []struct {
		name  string
		login string
		email string
	}{
		{name: "same login", login: login, email: "other-" + login + "@x.com"},
		{name: "same email", login: "other-" + login, email: login + "@x.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client.SetT(t)
			resp, err := client.POST("/auth/signup", map[string]string{
				"login": tt.login, "email": tt.email, "password": "pw",
			})
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, testutil.ReadBody(t, resp), "User already exists.")
		})
	}

	client.SetT(t)
	client.Signup(t, "third-"+login, "third-"+login+"@x.com", "pw")
}

func TestLogin_Failures(t *testing.T) {
	client := newTestClient(t, config.BackendPostgres)
	login := uniqueLogin("fail", "pg")
	client.Signup(t, login, login+"@x.com", "pw")

	for _, creds := range []map[string]string{
		{"login": login, "password": "wrong"},
		{"login": "nobody-" + login, "password": "pw"},
	} {
		resp, err := client.POST("/auth/login", creds)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, testutil.ReadBody(t, resp), "Authentication failed.")
	}
}

func TestRefreshToken_EmptyCookie(t *testing.T) {
	client := newTestClient(t, config.BackendPostgres)

	resp, err := client.POST("/auth/refreshToken", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, testutil.ReadBody(t, resp), "Refresh Token is empty!")
}

func TestRoles(t *testing.T) {
	adminClient := newTestClient(t, config.BackendPostgres)
	admin := uniqueLogin("admin", "pg")
	adminClient.Signup(t, admin, admin+"@x.com", "pw")
	grantAdmin(t, admin)
	adminClient.LoginAs(t, admin, "pw")

	userClient := newTestClient(t, config.BackendPostgres)
	user := uniqueLogin("bob", "pg")
	userClient.Signup(t, user, user+"@x.com", "pw")
	userClient.LoginAs(t, user, "pw")

	t.Run("non-admin cannot save roles", func(t *testing.T) {
		userClient.SetT(t)
		resp, err := userClient.PUT("/roles/save", map[string]interface{}{"login": user, "roles": []string{"ADMIN"}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("non-admin cannot read other user", func(t *testing.T) {
		userClient.SetT(t)
		resp, err := userClient.GET("/user-roles/" + admin)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("admin saves roles and change applies without new login", func(t *testing.T) {
		adminClient.SetT(t)
		resp, err := adminClient.PUT("/roles/save", map[string]interface{}{
			"login": user, "roles": []string{"CREDIT_USER", "ADMIN"},
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Roles saved for user "+user, testutil.ReadBody(t, resp))

		userClient.SetT(t)
		resp, err = userClient.GET("/user-roles/" + admin)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "roles are re-read on every request")
		_ = resp.Body.Close()
	})

	t.Run("admin reads missing user", func(t *testing.T) {
		adminClient.SetT(t)
		resp, err := adminClient.GET("/user-roles/ghost-" + admin)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("unknown target user", func(t *testing.T) {
		adminClient.SetT(t)
		resp, err := adminClient.PUT("/roles/save", map[string]interface{}{"login": "ghost-" + admin, "roles": []string{"USER"}})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("anonymous", func(t *testing.T) {
		anon := newTestClient(t, config.BackendPostgres)
		resp, err := anon.GET("/user-roles/" + user)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body struct {
			Status int    `json:"status"`
			Error  string `json:"error"`
			Path   string `json:"path"`
		}
		testutil.DecodeJSON(t, resp, &body)
		assert.Equal(t, http.StatusUnauthorized, body.Status)
		assert.Equal(t, "Unauthorized", body.Error)
		assert.Equal(t, "/user-roles/"+user, body.Path)
	})
}

func TestOperationalEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		for backend, srv := range servers {
			resp, err := http.Get(srv.URL + path)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode, backend+path)
			_ = resp.Body.Close()
		}
	}

	client := newTestClient(t, config.BackendPostgres)
	resp, err := client.GET("/version")
	require.NoError(t, err)
	var info map[string]string
	testutil.DecodeJSON(t, resp, &info)
	assert.Contains(t, info, "version")
}
