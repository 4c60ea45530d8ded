package entitlement_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"shopmgr/internal/clock"
	"shopmgr/internal/device"
	"shopmgr/internal/entitlement"
	"shopmgr/internal/issuer"
	"shopmgr/internal/license"
	"shopmgr/internal/shared/testutil"
	"shopmgr/internal/storage"
)

const (
	secret   = "resolver-test-secret"
	deviceID = "till-7f3e9a"
	day      = 24 * time.Hour
)

var installedAt = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

type ResolverTestSuite struct {
	suite.Suite
	ctx      context.Context
	store    *storage.MemoryStore
	clock    *clock.Mock
	issuer   *issuer.Issuer
	resolver *entitlement.Resolver
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverTestSuite))
}

func (s *ResolverTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = storage.NewMemoryStore()
	s.clock = clock.NewMock(installedAt)
	s.issuer = issuer.New(secret, nil)
	s.resolver = s.newResolver(device.Static(deviceID))
}

func (s *ResolverTestSuite) newResolver(identity device.IdentityProvider) *entitlement.Resolver {
	r, err := entitlement.NewResolver(entitlement.Config{
		Store: s.store,
		Validator: license.NewValidator(
			license.WithSecret(secret),
			license.WithPublicKey(nil),
			license.WithClock(s.clock),
		),
		Identity: identity,
		Clock:    s.clock,
	})
	s.Require().NoError(err)
	return r
}

func (s *ResolverTestSuite) issue(p license.Payload) string {
	token, err := s.issuer.Issue(p)
	s.Require().NoError(err)
	return token
}

func (s *ResolverTestSuite) storeToken(token string) {
	s.Require().NoError(s.store.Set(s.ctx, storage.KeyLicense, token))
}

func (s *ResolverTestSuite) TestFreshInstallStartsTrial() {
	state := s.resolver.Resolve(s.ctx)

	s.True(state.Allowed)
	s.Equal(entitlement.ReasonTrial, state.Reason)
	s.Require().NotNil(state.Trial)
	s.Equal(7, state.Trial.RemainingDays)
	s.Equal(7, state.Trial.TotalDays)
	s.Nil(state.License)
	s.Equal(deviceID, state.DeviceID)
	s.Empty(state.LicenseRejection)

	_, ok, err := s.store.Get(s.ctx, storage.KeyTrial)
	s.Require().NoError(err)
	s.True(ok, "resolve must record the trial start")
}

func (s *ResolverTestSuite) TestTrialExpiresAfterEightDays() {
	s.resolver.Resolve(s.ctx)
	s.clock.Advance(8 * day)

	state := s.resolver.Resolve(s.ctx)
	s.False(state.Allowed)
	s.Equal(entitlement.ReasonExpired, state.Reason)
	s.Require().NotNil(state.Trial)
	s.Equal(0, state.Trial.RemainingDays)
}

func (s *ResolverTestSuite) TestTrialBoundary() {
	s.resolver.Resolve(s.ctx)

	s.clock.Set(installedAt.Add(7*day - time.Millisecond))
	s.Equal(entitlement.ReasonTrial, s.resolver.Resolve(s.ctx).Reason)

	s.clock.Set(installedAt.Add(7 * day))
	s.Equal(entitlement.ReasonExpired, s.resolver.Resolve(s.ctx).Reason)
}

func (s *ResolverTestSuite) TestLicenseOverridesExpiredTrial() {
	s.resolver.Resolve(s.ctx)
	s.clock.Advance(30 * day)
	s.storeToken(s.issue(issuer.Full(deviceID)))

	state := s.resolver.Resolve(s.ctx)
	s.True(state.Allowed)
	s.Equal(entitlement.ReasonLicensed, state.Reason)
	s.Require().NotNil(state.License)
	s.Equal(license.TypeFull, state.License.Type)
	s.Nil(state.License.ExpiresAt)
	s.Require().NotNil(state.Trial, "trial info is still attached for display")
	s.Equal(0, state.Trial.RemainingDays)
}

func (s *ResolverTestSuite) TestLicenseForAnotherDeviceIsIgnored() {
	s.storeToken(s.issue(issuer.Full("some-other-till")))

	state := s.resolver.Resolve(s.ctx)
	s.True(state.Allowed)
	s.Equal(entitlement.ReasonTrial, state.Reason)
	s.Equal(license.ReasonDeviceMismatch, state.LicenseRejection)

	s.clock.Advance(10 * day)
	state = s.resolver.Resolve(s.ctx)
	s.False(state.Allowed)
	s.Equal(entitlement.ReasonExpired, state.Reason)
	s.Equal(license.ReasonDeviceMismatch, state.LicenseRejection)
}

func (s *ResolverTestSuite) TestTimeLimitedLicenseLapsesIntoExpired() {
	s.resolver.Resolve(s.ctx)
	s.clock.Advance(10 * day)

	expiresAt := s.clock.Now().Add(5 * day)
	s.storeToken(s.issue(issuer.TimeLimited(deviceID, expiresAt)))

	state := s.resolver.Resolve(s.ctx)
	s.Equal(entitlement.ReasonLicensed, state.Reason)
	s.Require().NotNil(state.License)
	s.Require().NotNil(state.License.ExpiresAt)
	s.True(expiresAt.Equal(*state.License.ExpiresAt))

	s.clock.Set(expiresAt)
	s.Equal(entitlement.ReasonLicensed, s.resolver.Resolve(s.ctx).Reason, "expiry instant is still valid")

	s.clock.Set(expiresAt.Add(time.Millisecond))
	state = s.resolver.Resolve(s.ctx)
	s.False(state.Allowed)
	s.Equal(entitlement.ReasonExpired, state.Reason)
	s.Equal(license.ReasonExpired, state.LicenseRejection)
}

func (s *ResolverTestSuite) TestGarbageStoredLicenseFallsBackToTrial() {
	for _, token := range []string{"garbage", "abc.def", "   "} {
		s.storeToken(token)

		state := s.resolver.Resolve(s.ctx)
		s.True(state.Allowed, token)
		s.Equal(entitlement.ReasonTrial, state.Reason, token)
		s.NotEmpty(state.LicenseRejection, token)
	}
}

func (s *ResolverTestSuite) TestIdentityFailureUsesSentinel() {
	r := s.newResolver(device.ProviderFunc(func(context.Context) (string, error) {
		return "", errors.New("wmi unavailable")
	}))
	s.storeToken(s.issue(issuer.Full(deviceID)))

	state := r.Resolve(s.ctx)
	s.True(state.Allowed)
	s.Equal(entitlement.ReasonTrial, state.Reason)
	s.Equal(device.Unknown, state.DeviceID)
	s.Equal(license.ReasonDeviceMismatch, state.LicenseRejection)
}

func (s *ResolverTestSuite) TestActivate() {
	s.resolver.Resolve(s.ctx)
	s.clock.Advance(9 * day)
	s.Equal(entitlement.ReasonExpired, s.resolver.Resolve(s.ctx).Reason)

	token := s.issue(issuer.Full(deviceID))
	payload, err := s.resolver.Activate(s.ctx, "\n  "+token+"  \t")
	s.Require().NoError(err)
	s.Equal(license.TypeFull, payload.Type)

	stored, err := s.resolver.StoredToken(s.ctx)
	s.Require().NoError(err)
	s.Equal(token, stored, "token is stored trimmed")

	s.Equal(entitlement.ReasonLicensed, s.resolver.Resolve(s.ctx).Reason, "activation re-admits immediately")
}

func (s *ResolverTestSuite) TestActivateRejectionKeepsStoredLicense() {
	good := s.issue(issuer.Full(deviceID))
	_, err := s.resolver.Activate(s.ctx, good)
	s.Require().NoError(err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", license.ErrMalformedToken},
		{"other device", s.issue(issuer.Full("elsewhere")), license.ErrDeviceMismatch},
		{"expired", s.issue(issuer.TimeLimited(deviceID, installedAt.Add(-day))), license.ErrExpired},
		{"tampered", good[:len(good)-1] + "x", license.ErrBadSignature},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.resolver.Activate(s.ctx, tt.token)
			s.ErrorIs(err, tt.want)

			stored, err := s.resolver.StoredToken(s.ctx)
			s.Require().NoError(err)
			s.Equal(good, stored)
		})
	}
}

func (s *ResolverTestSuite) TestDeactivateKeepsTrial() {
	s.resolver.Resolve(s.ctx)
	trialBefore, _, _ := s.store.Get(s.ctx, storage.KeyTrial)

	_, err := s.resolver.Activate(s.ctx, s.issue(issuer.Full(deviceID)))
	s.Require().NoError(err)
	s.Require().NoError(s.resolver.Deactivate(s.ctx))
	s.Require().NoError(s.resolver.Deactivate(s.ctx), "deactivating twice is fine")

	stored, err := s.resolver.StoredToken(s.ctx)
	s.Require().NoError(err)
	s.Empty(stored)

	trialAfter, _, _ := s.store.Get(s.ctx, storage.KeyTrial)
	s.Equal(trialBefore, trialAfter)

	s.clock.Advance(8 * day)
	s.Equal(entitlement.ReasonExpired, s.resolver.Resolve(s.ctx).Reason)
}

func (s *ResolverTestSuite) TestReplacingTrialRecordReadmits() {
	s.resolver.Resolve(s.ctx)
	s.clock.Advance(20 * day)
	s.Equal(entitlement.ReasonExpired, s.resolver.Resolve(s.ctx).Reason)

	s.Require().NoError(s.store.Remove(s.ctx, storage.KeyTrial))
	s.Equal(entitlement.ReasonTrial, s.resolver.Resolve(s.ctx).Reason)
}

func (s *ResolverTestSuite) TestDeviceID() {
	s.Equal(deviceID, s.resolver.DeviceID(s.ctx))
	s.Equal(7, s.resolver.TrialDays())
}

// brokenStore fails every operation.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("io error")
}
func (brokenStore) Set(context.Context, string, string) error { return errors.New("io error") }
func (brokenStore) SetIfAbsent(context.Context, string, string) (bool, error) {
	return false, errors.New("io error")
}
func (brokenStore) Remove(context.Context, string) error { return errors.New("io error") }

func TestResolveNeverFails(t *testing.T) {
	ctx := context.Background()
	r, err := entitlement.NewResolver(entitlement.Config{
		Store:     brokenStore{},
		Validator: license.NewValidator(license.WithSecret(secret)),
		Identity:  device.Static(deviceID),
	})
	require.NoError(t, err)

	state := r.Resolve(ctx)
	assert.True(t, state.Allowed)
	assert.Equal(t, entitlement.ReasonTrial, state.Reason)
	require.NotNil(t, state.Trial)
	assert.Equal(t, 7, state.Trial.RemainingDays)

	_, err = r.Activate(ctx, "x")
	assert.ErrorIs(t, err, license.ErrMalformedToken)
	assert.Error(t, r.Deactivate(ctx))
	_, err = r.StoredToken(ctx)
	assert.Error(t, err)
}

func TestNewResolverRequiresDependencies(t *testing.T) {
	_, err := entitlement.NewResolver(entitlement.Config{})
	assert.Error(t, err)
}

func TestResolverMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	metrics, err := entitlement.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	r, err := entitlement.NewResolver(entitlement.Config{
		Store:     store,
		Validator: license.NewValidator(license.WithSecret(secret)),
		Identity:  device.Static(deviceID),
		Metrics:   metrics,
	})
	require.NoError(t, err)

	r.Resolve(ctx)
	r.Resolve(ctx)
	_, err = r.Activate(ctx, "not-a-token")
	require.Error(t, err)
	require.NoError(t, r.Deactivate(ctx))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(2), sumCounter(rm, "entitlement_resolutions_total"))
	assert.Equal(t, int64(1), sumCounter(rm, "license_rejections_total"))
	assert.Equal(t, int64(1), sumCounter(rm, "license_activation_attempts_total"))
	assert.Equal(t, int64(1), sumCounter(rm, "license_deactivations_total"))
}

func sumCounter(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestActivationLogsOnlyMaskedTokens(t *testing.T) {
	ctx := context.Background()
	logger, logs := testutil.NewTestLogger(nil)
	clk := clock.NewMock(installedAt)

	r, err := entitlement.NewResolver(entitlement.Config{
		Store:     storage.NewMemoryStore(),
		Validator: license.NewValidator(license.WithSecret(secret), license.WithPublicKey(nil), license.WithClock(clk)),
		Identity:  device.Static(deviceID),
		Clock:     clk,
		Logger:    logger,
	})
	require.NoError(t, err)

	iss := issuer.New(secret, nil)
	foreign, err := iss.Issue(issuer.Full("other-till"))
	require.NoError(t, err)
	good, err := iss.Issue(issuer.Full(deviceID))
	require.NoError(t, err)

	_, err = r.Activate(ctx, foreign)
	require.Error(t, err)
	_, err = r.Activate(ctx, good)
	require.NoError(t, err)

	testutil.AssertLogContains(t, logs, slog.LevelInfo, "license activation rejected")
	testutil.AssertLogContains(t, logs, slog.LevelInfo, "license activated")
	testutil.AssertLogAttr(t, logs, "token_masked", license.MaskToken(foreign))
	testutil.AssertNotLogged(t, logs, foreign)
	testutil.AssertNotLogged(t, logs, good)
	testutil.AssertNotLogged(t, logs, secret)
}
