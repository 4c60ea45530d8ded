package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"shopmgr/internal/config"
	"shopmgr/internal/entitlement"
	"shopmgr/internal/infrastructure"
	"shopmgr/internal/issuer"
	"shopmgr/internal/license"
	"shopmgr/internal/storage"
)

const testDevice = "shop-counter-01"

type AppTestSuite struct {
	suite.Suite
	dir    string
	cfg    *config.Config
	app    *Application
	server *httptest.Server
	client *http.Client
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppTestSuite))
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Logging.Output = "console"
	cfg.Logging.Level = "error"
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = filepath.Join(dir, "data", "shop.db")
	cfg.Device.Source = "static"
	cfg.Device.StaticID = testDevice
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.WebDir = filepath.Join(dir, "web")
	cfg.Paths.LogsDir = filepath.Join(dir, "logs")
	cfg.Server.RateLimit.Enabled = false
	return cfg
}

func (s *AppTestSuite) SetupTest() {
	infrastructure.ResetLoggerForTesting()
	s.dir = s.T().TempDir()
	s.cfg = testConfig(s.dir)
	s.client = &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (s *AppTestSuite) TearDownTest() {
	if s.server != nil {
		s.server.Close()
		s.server = nil
	}
	if s.app != nil {
		s.Require().NoError(s.app.Shutdown(context.Background()))
		s.app = nil
	}
	infrastructure.ResetLoggerForTesting()
}

func (s *AppTestSuite) start() {
	app, err := NewApplication(context.Background(), s.cfg)
	s.Require().NoError(err)
	s.app = app
	s.server = httptest.NewServer(app.Router)
}

func (s *AppTestSuite) get(path string) *http.Response {
	resp, err := s.client.Get(s.server.URL + path)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *AppTestSuite) entitlement() entitlement.AccessState {
	resp := s.get("/api/entitlement")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var state entitlement.AccessState
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&state))
	return state
}

func (s *AppTestSuite) activate(token string) *http.Response {
	body := fmt.Sprintf(`{"token":%q}`, token)
	resp, err := s.client.Post(s.server.URL+"/api/license/activate", "application/json", strings.NewReader(body))
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *AppTestSuite) issue(deviceID string) string {
	token, err := issuer.New(license.Secret, nil).Issue(issuer.Full(deviceID))
	s.Require().NoError(err)
	return token
}

// seedTrial writes a trial record as a previous run would have.
func (s *AppTestSuite) seedTrial(startedAt time.Time) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, s.cfg.Storage.Path, nil)
	s.Require().NoError(err)
	defer db.Close()

	s.Require().NoError(db.Set(ctx, storage.KeyTrial, fmt.Sprintf(`{"startedAt":%d}`, startedAt.UnixMilli())))
}

func (s *AppTestSuite) TestFreshInstallStartsTrial() {
	s.start()

	state := s.entitlement()
	s.True(state.Allowed)
	s.Equal(entitlement.ReasonTrial, state.Reason)
	s.Equal(testDevice, state.DeviceID)
	s.Require().NotNil(state.Trial)
	s.Equal(7, state.Trial.RemainingDays)

	s.Equal(http.StatusNotFound, s.get("/api/license").StatusCode)
}

func (s *AppTestSuite) TestExpiredTrialIsGated() {
	s.seedTrial(time.Now().Add(-30 * 24 * time.Hour))
	s.start()

	state := s.entitlement()
	s.False(state.Allowed)
	s.Equal(entitlement.ReasonExpired, state.Reason)

	page := s.get("/reports/daily")
	s.Equal(http.StatusTemporaryRedirect, page.StatusCode)
	s.Contains(page.Header.Get("Location"), "/settings?")
	s.Contains(page.Header.Get("Location"), "reason=expired")

	api := s.get("/api/products")
	s.Equal(http.StatusForbidden, api.StatusCode)

	settings := s.get("/settings")
	s.Equal(http.StatusOK, settings.StatusCode)
	body, err := io.ReadAll(settings.Body)
	s.Require().NoError(err)
	s.Contains(string(body), testDevice)

	s.Equal(http.StatusOK, s.get("/api/device").StatusCode)
	s.Equal(http.StatusOK, s.get("/api/health").StatusCode)
}

func (s *AppTestSuite) TestActivationUnlocksAfterExpiry() {
	s.seedTrial(time.Now().Add(-30 * 24 * time.Hour))
	s.start()

	rejected := s.activate(s.issue("someone-else"))
	s.Equal(http.StatusUnprocessableEntity, rejected.StatusCode)
	s.False(s.entitlement().Allowed)

	accepted := s.activate(s.issue(testDevice))
	s.Require().Equal(http.StatusOK, accepted.StatusCode)

	state := s.entitlement()
	s.True(state.Allowed)
	s.Equal(entitlement.ReasonLicensed, state.Reason)
	s.Equal(http.StatusNotFound, s.get("/reports/daily").StatusCode, "gate lets the request through")
}

func (s *AppTestSuite) TestLicensePersistsAcrossRestarts() {
	s.start()
	s.Require().Equal(http.StatusOK, s.activate(s.issue(testDevice)).StatusCode)

	s.server.Close()
	s.server = nil
	s.Require().NoError(s.app.Shutdown(context.Background()))
	s.app = nil
	infrastructure.ResetLoggerForTesting()

	s.start()
	s.Equal(entitlement.ReasonLicensed, s.entitlement().Reason)
}

func (s *AppTestSuite) TestSealedStorage() {
	s.cfg.Storage.Seal = true
	s.start()
	s.Require().Equal(http.StatusOK, s.activate(s.issue(testDevice)).StatusCode)
	s.Equal(entitlement.ReasonLicensed, s.entitlement().Reason)

	raw, ok, err := s.app.store.Get(context.Background(), storage.KeyLicense)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Contains(raw, ".", "sealed store returns the plain token")

	_, isSealed := s.app.store.(*storage.SealedStore)
	s.True(isSealed)
}

func (s *AppTestSuite) TestMetricsEndpoint() {
	s.start()
	s.entitlement()

	resp := s.get("/metrics")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), "http_requests_total")
}

func (s *AppTestSuite) TestEntitlementWebsocket() {
	s.start()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.app.Pusher.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/entitlement"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	var msg struct {
		Type string                  `json:"type"`
		Data entitlement.AccessState `json:"data"`
	}
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Equal("entitlement:state", msg.Type)
	s.Equal(entitlement.ReasonTrial, msg.Data.Reason)
}

func (s *AppTestSuite) TestStaticSiteServedWhenPresent() {
	s.Require().NoError(os.MkdirAll(s.cfg.Paths.WebDir, 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(s.cfg.Paths.WebDir, "index.html"), []byte("<h1>shop</h1>"), 0o644))
	s.start()

	resp := s.get("/inventory")
	s.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), "shop")
}

func (s *AppTestSuite) TestShutdownIsIdempotent() {
	s.start()
	s.NoError(s.app.Shutdown(context.Background()))
	s.NoError(s.app.Shutdown(context.Background()))
}

func TestNewApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Trial.Days = 0

	_, err := NewApplication(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid configuration")
}

func TestRunStopsOnCancel(t *testing.T) {
	infrastructure.ResetLoggerForTesting()
	t.Cleanup(infrastructure.ResetLoggerForTesting)

	cfg := testConfig(t.TempDir())
	cfg.Storage.Driver = "memory"
	cfg.Server.Port = freePort(t)

	app, err := NewApplication(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Address() + "/api/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, port, found := strings.Cut(strings.TrimPrefix(srv.URL, "http://"), ":")
	require.True(t, found)
	var n int
	_, err := fmt.Sscanf(port, "%d", &n)
	require.NoError(t, err)
	return n
}
