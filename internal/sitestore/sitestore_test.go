package sitestore

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storekit/internal/apifetch"
	"github.com/roach88/storekit/internal/fetchstore"
	"github.com/roach88/storekit/internal/registry"
	"github.com/roach88/storekit/internal/snapshot"
	"github.com/roach88/storekit/internal/tagstore"
	"github.com/roach88/storekit/internal/testutil"
)

const (
	slug        = "analytics"
	moduleStore = "modules/analytics"
)

var siteInfo = map[string]any{
	"referenceSiteURL": "https://example.com",
	"homeURL":          "https://example.com/",
	"adminURL":         "https://example.com/wp-admin/",
}

type fixture struct {
	r         *registry.Registry
	transport *testutil.FakeTransport
	client    *apifetch.Client
}

func setup(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	transport := testutil.NewFakeTransport()
	client := apifetch.NewClient(transport, apifetch.WithLogger(testutil.DiscardLogger()))
	opts := Options{Slug: slug, Client: client, TagURLs: []string{"https://example.com/"}}
	if mutate != nil {
		mutate(&opts)
	}
	r := testutil.StartRegistry(t)
	require.NoError(t, Register(r, opts))
	return &fixture{r: r, transport: transport, client: client}
}

func TestRegister_ValidatesOptions(t *testing.T) {
	r := testutil.StartRegistry(t)
	err := Register(r, Options{Slug: slug})
	assert.True(t, registry.IsValidation(err))

	_, err = Module(Options{Client: apifetch.NewClient(testutil.NewFakeTransport())})
	assert.True(t, registry.IsValidation(err))
}

func TestRegister_StoreNames(t *testing.T) {
	f := setup(t, nil)
	assert.Equal(t, []string{SiteStore, moduleStore}, f.r.Stores())
	assert.Equal(t, moduleStore, StoreName(slug))
}

func TestSite_ResolvesURLs(t *testing.T) {
	f := setup(t, nil)
	f.transport.MustRespond(http.MethodGet, siteInfoPath, http.StatusOK, siteInfo)
	ctx := testutil.Context(t)

	v, err := f.r.Resolve(ctx, SiteStore, SelectReferenceSiteURL)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", v)

	v, err = f.r.Resolve(ctx, SiteStore, SelectAdminURL)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/wp-admin/", v)

	v, err = f.r.Select(SiteStore, SelectSiteInfo)
	require.NoError(t, err)
	assert.Equal(t, SiteInfo{
		ReferenceSiteURL: "https://example.com",
		HomeURL:          "https://example.com/",
		AdminURL:         "https://example.com/wp-admin/",
	}, v)
	assert.Equal(t, 1, f.transport.Calls(http.MethodGet, siteInfoPath))
}

func TestServiceURL_ReadsSiteStore(t *testing.T) {
	f := setup(t, func(o *Options) { o.ServiceURL = "https://service.example/app/" })
	f.transport.MustRespond(http.MethodGet, siteInfoPath, http.StatusOK, siteInfo)
	ctx := testutil.Context(t)

	// Unknown until the site store resolves.
	v, err := f.r.Select(moduleStore, SelectServiceURL, "reports")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = f.r.Resolve(ctx, SiteStore, SelectReferenceSiteURL)
	require.NoError(t, err)

	v, err = f.r.Select(moduleStore, SelectServiceURL, "reports")
	require.NoError(t, err)
	assert.Equal(t, "https://service.example/app/?siteURL=https%3A%2F%2Fexample.com#/reports", v)

	v, err = f.r.Select(moduleStore, SelectServiceURL)
	require.NoError(t, err)
	assert.Equal(t, "https://service.example/app/?siteURL=https%3A%2F%2Fexample.com", v)
}

func TestSettings_EditAndSubmit(t *testing.T) {
	f := setup(t, nil)
	path := moduleStore + "/data/settings"
	f.transport.MustRespond(http.MethodGet, path, http.StatusOK, map[string]any{"propertyID": "123"})
	f.transport.MustRespond(http.MethodPost, path, http.StatusOK, map[string]any{"propertyID": "456"})
	ctx := testutil.Context(t)

	v, err := f.r.Resolve(ctx, moduleStore, SelectSettings)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"propertyID": "123"}, v)
	assert.Equal(t, 1, f.client.Cached())

	_, err = f.r.DispatchWait(ctx, moduleStore, ActionSetSetting, "propertyID", "456")
	require.NoError(t, err)

	changed, err := f.r.Select(moduleStore, SelectHaveSettingsChanged)
	require.NoError(t, err)
	assert.Equal(t, true, changed)

	res, err := f.r.DispatchWait(ctx, moduleStore, ActionSubmitChanges)
	require.NoError(t, err)
	result, ok := res.(fetchstore.Result[map[string]any])
	require.True(t, ok)
	assert.Nil(t, result.Error)
	assert.Equal(t, map[string]any{"propertyID": "456"}, result.Response)

	changed, err = f.r.Select(moduleStore, SelectHaveSettingsChanged)
	require.NoError(t, err)
	assert.Equal(t, false, changed)
	assert.Equal(t, 0, f.client.Cached(), "a save invalidates cached settings reads")

	v, err = f.r.Select(moduleStore, SelectSetting, "propertyID")
	require.NoError(t, err)
	assert.Equal(t, "456", v)
}

func TestSettings_SubmitFailureKeepsEdits(t *testing.T) {
	f := setup(t, nil)
	path := moduleStore + "/data/settings"
	f.transport.MustRespond(http.MethodPost, path, http.StatusInternalServerError,
		map[string]any{"code": "internal_error", "message": "boom", "data": map[string]any{"status": 500}})
	ctx := testutil.Context(t)

	_, err := f.r.DispatchWait(ctx, moduleStore, ActionSetSetting, "propertyID", "789")
	require.NoError(t, err)

	res, err := f.r.DispatchWait(ctx, moduleStore, ActionSubmitChanges)
	require.NoError(t, err)
	result := res.(fetchstore.Result[map[string]any])
	require.NotNil(t, result.Error)
	assert.Equal(t, "internal_error", result.Error.Code)
	assert.Equal(t, 500, result.Error.Status())

	hasErrors, err := f.r.Select(moduleStore, registry.SelectHasErrors)
	require.NoError(t, err)
	assert.Equal(t, true, hasErrors)

	changed, err := f.r.Select(moduleStore, SelectHaveSettingsChanged)
	require.NoError(t, err)
	assert.Equal(t, true, changed)
}

func TestAccounts_Resolve(t *testing.T) {
	f := setup(t, nil)
	path := moduleStore + "/data/accounts"
	f.transport.MustRespond(http.MethodGet, path, http.StatusOK, []map[string]any{
		{"id": "1", "name": "Main"},
		{"id": "2", "name": "Backup"},
	})
	ctx := testutil.Context(t)

	v, err := f.r.Select(moduleStore, SelectAccounts)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = f.r.Resolve(ctx, moduleStore, SelectAccounts)
	require.NoError(t, err)
	assert.Equal(t, []Account{{ID: "1", Name: "Main"}, {ID: "2", Name: "Backup"}}, v)

	_, err = f.r.Resolve(ctx, moduleStore, SelectAccounts)
	require.NoError(t, err)
	assert.Equal(t, 1, f.transport.Calls(http.MethodGet, path))
}

func TestExistingTag_ScansTagURLs(t *testing.T) {
	f := setup(t, nil)
	f.transport.MustRespond(http.MethodGet, "https://example.com/", http.StatusOK,
		`<html><script>gtag('config', 'G-XYZ789');</script></html>`)
	ctx := testutil.Context(t)

	v, err := f.r.Resolve(ctx, moduleStore, tagstore.SelectExistingTag)
	require.NoError(t, err)
	assert.Equal(t, "G-XYZ789", v)

	has, err := f.r.DispatchWait(ctx, moduleStore, tagstore.ActionWaitForExistingTag)
	require.NoError(t, err)
	assert.Equal(t, true, has)
}

func TestExistingTag_ResetRescansCurrentPage(t *testing.T) {
	f := setup(t, nil)
	f.transport.
		MustRespond(http.MethodGet, "https://example.com/", http.StatusOK,
			`<html><script>gtag('config', 'G-OLD111');</script></html>`).
		MustRespond(http.MethodGet, "https://example.com/", http.StatusOK,
			`<html><script>gtag('config', 'G-NEW222');</script></html>`)
	ctx := testutil.Context(t)

	v, err := f.r.Resolve(ctx, moduleStore, tagstore.SelectExistingTag)
	require.NoError(t, err)
	assert.Equal(t, "G-OLD111", v)

	_, err = f.r.DispatchWait(ctx, moduleStore, tagstore.ActionResetExistingTag)
	require.NoError(t, err)

	v, err = f.r.Resolve(ctx, moduleStore, tagstore.SelectExistingTag)
	require.NoError(t, err)
	assert.Equal(t, "G-NEW222", v)
	assert.Equal(t, 2, f.transport.Calls(http.MethodGet, "https://example.com/"))
	assert.Zero(t, f.client.Cached(), "page scans bypass the cache")
}

func TestSnapshot_RoundTrip(t *testing.T) {
	persister := snapshot.NewMemoryStore()
	withPersister := func(o *Options) { o.Persister = persister }
	path := moduleStore + "/data/settings"
	ctx := testutil.Context(t)

	f := setup(t, withPersister)
	f.transport.MustRespond(http.MethodGet, path, http.StatusOK, map[string]any{"propertyID": "123"})
	_, err := f.r.Resolve(ctx, moduleStore, SelectSettings)
	require.NoError(t, err)
	_, err = f.r.DispatchWait(ctx, moduleStore, snapshot.ActionCreateSnapshot)
	require.NoError(t, err)

	fresh := setup(t, withPersister)
	restored, err := fresh.r.DispatchWait(ctx, moduleStore, snapshot.ActionRestoreSnapshot)
	require.NoError(t, err)
	assert.Equal(t, true, restored)

	v, err := fresh.r.Select(moduleStore, SelectSettings)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"propertyID": "123"}, v)
	assert.Equal(t, 0, fresh.transport.Calls(http.MethodGet, path))
}

func TestModule_NoSnapshotWithoutPersister(t *testing.T) {
	f := setup(t, nil)
	_, err := f.r.Dispatch(moduleStore, snapshot.ActionCreateSnapshot)
	assert.True(t, registry.IsUnknown(err))
}
