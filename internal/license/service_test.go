package license

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "policyhub/internal/errors"
	"policyhub/internal/notify"
	"policyhub/internal/policy"
	"policyhub/internal/security"
	"policyhub/internal/shared/testutil"
)

var (
	appWeb = uuid.MustParse("a8e9274d-83e4-451c-82d4-7679f1f004ec")
	appOps = uuid.MustParse("5b0b3a4e-2f6d-4d8e-9a61-0c1f2b7e9d10")
)

type recordingNotifier struct {
	registry *policy.Registry

	mu          sync.Mutex
	dispatched  []notify.Notification
	dispatchErr error
	registered  map[string]uuid.UUID
}

func (r *recordingNotifier) Register(_ context.Context, appID uuid.UUID, _ notify.SubscriptionKind, cb notify.Callback) error {
	if !r.registry.Contains(appID) {
		return notify.ErrUnknownApplication
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered == nil {
		r.registered = make(map[string]uuid.UUID)
	}
	r.registered[cb.ID()] = appID
	return nil
}

func (r *recordingNotifier) Unregister(_ context.Context, cb notify.Callback) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.registered[cb.ID()]
	delete(r.registered, cb.ID())
	return ok
}

func (r *recordingNotifier) Dispatch(_ context.Context, n notify.Notification) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dispatchErr != nil {
		return 0, r.dispatchErr
	}
	r.dispatched = append(r.dispatched, n)
	return 1, nil
}

func (r *recordingNotifier) take() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.dispatched
	r.dispatched = nil
	return out
}

type countingDecrypter struct {
	Decrypter
	calls atomic.Int32
}

func (c *countingDecrypter) Decrypt(blob []byte) ([]byte, error) {
	c.calls.Add(1)
	return c.Decrypter.Decrypt(blob)
}

type failingStore struct{ Store }

// hookStore runs afterSave once the blob is on disk.
type hookStore struct {
	*FileStore
	afterSave func()
}

func (h *hookStore) Save(ctx context.Context, blob []byte) error {
	if err := h.FileStore.Save(ctx, blob); err != nil {
		return err
	}
	if h.afterSave != nil {
		h.afterSave()
	}
	return nil
}

func (failingStore) Save(context.Context, []byte) error { return errors.New("disk full") }

type fixture struct {
	svc      *Service
	notifier *recordingNotifier
	store    *FileStore
	cipher   *security.Cipher
	audit    *AuditLog
	logs     *testutil.BufferedSlogHandler
	dir      string
}

func newTestCipher(t *testing.T) *security.Cipher {
	t.Helper()
	cfg := security.DefaultEncryptionConfig()
	cfg.SCryptN = 1024
	c, err := security.NewCipher("test-passphrase", cfg)
	require.NoError(t, err)
	return c
}

func newTestRegistry(t *testing.T) *policy.Registry {
	t.Helper()
	reg, err := policy.NewRegistry([]policy.Entry{
		{ApplicationID: appWeb, PolicyTypes: []string{"WebClient"}},
		{ApplicationID: appOps, PolicyTypes: []string{"Operator", "Reports"}},
	})
	require.NoError(t, err)
	return reg
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	dir := t.TempDir()
	logger, logs := testutil.NewTestLogger(t)
	reg := newTestRegistry(t)

	f := &fixture{
		notifier: &recordingNotifier{registry: reg},
		store:    NewFileStore(filepath.Join(dir, "license", "policy.lic")),
		cipher:   newTestCipher(t),
		audit:    NewAuditLog(filepath.Join(dir, "license", "audit.jsonl")),
		logs:     logs,
		dir:      dir,
	}

	cfg := Config{
		Namespace: testutil.Namespace,
		Brand:     testutil.Brand,
		Registry:  reg,
		Decrypter: f.cipher,
		Store:     f.store,
		Notifier:  f.notifier,
		Audit:     f.audit,
		Logger:    logger,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	svc, err := NewService(cfg)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seal(t *testing.T, xml []byte) []byte {
	t.Helper()
	blob, err := f.cipher.Encrypt(xml)
	require.NoError(t, err)
	return blob
}

func (f *fixture) load(t *testing.T, xml []byte) bool {
	t.Helper()
	ok, err := f.svc.LoadLicenseFile(context.Background(), f.seal(t, xml))
	require.NoError(t, err)
	return ok
}

func baseLicense() []byte {
	return testutil.LicenseXML(testutil.Brand,
		testutil.Fragment("WebClient", "<MaxSessions>5</MaxSessions>"),
		testutil.Fragment("Operator", "<Level>1</Level>"),
		testutil.Fragment("Reports", "<Enabled>true</Enabled>"),
	)
}

func contentsFor(t *testing.T, ns []notify.Notification, app uuid.UUID) []string {
	t.Helper()
	for _, n := range ns {
		if c, ok := n.(notify.PolicyContentsChanged); ok && c.ApplicationID == app {
			return c.Payload
		}
	}
	return nil
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}

func TestLoadLicenseFile_FirstLoad(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.load(t, baseLicense()))

	got := f.notifier.take()
	require.Len(t, got, 3)
	assert.Equal(t, []string{testutil.Serialized("WebClient", "<MaxSessions>5</MaxSessions>")},
		contentsFor(t, got, appWeb))
	assert.Equal(t, []string{
		testutil.Serialized("Operator", "<Level>1</Level>"),
		testutil.Serialized("Reports", "<Enabled>true</Enabled>"),
	}, contentsFor(t, got, appOps))
	assert.Equal(t, notify.PolicyChanged{}, got[2], "broadcast follows the contents")

	assert.FileExists(t, f.store.Path())
	assert.True(t, f.svc.Status().Loaded)
	assert.Equal(t, 3, f.svc.Status().Fragments)
}

func TestLoadLicenseFile_IdenticalReloadSendsNothing(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.load(t, baseLicense()))
	f.notifier.take()

	require.True(t, f.load(t, baseLicense()))
	assert.Empty(t, f.notifier.take())
}

func TestLoadLicenseFile_PartialUpdateBackfills(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.load(t, baseLicense()))
	f.notifier.take()

	next := testutil.LicenseXML(testutil.Brand,
		testutil.Fragment("WebClient", "<MaxSessions>5</MaxSessions>"),
		testutil.Fragment("Operator", "<Level>2</Level>"),
		testutil.Fragment("Reports", "<Enabled>true</Enabled>"),
	)
	require.True(t, f.load(t, next))

	got := f.notifier.take()
	require.Len(t, got, 2)
	assert.Equal(t, []string{
		testutil.Serialized("Operator", "<Level>2</Level>"),
		testutil.Serialized("Reports", "<Enabled>true</Enabled>"),
	}, contentsFor(t, got, appOps))
	assert.Nil(t, contentsFor(t, got, appWeb), "unaffected application gets nothing")
	assert.Equal(t, notify.PolicyChanged{}, got[1])
}

func TestLoadLicenseFile_RemovedFragment(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.load(t, baseLicense()))
	f.notifier.take()

	next := testutil.LicenseXML(testutil.Brand,
		testutil.Fragment("Operator", "<Level>1</Level>"),
		testutil.Fragment("Reports", "<Enabled>true</Enabled>"),
	)
	require.True(t, f.load(t, next))

	got := f.notifier.take()
	assert.Equal(t, []string{policy.RemovedMarker}, contentsFor(t, got, appWeb))
	assert.Empty(t, f.svc.GetSecurityPolicy(context.Background(), appWeb))
}

func TestLoadLicenseFile_Rejected(t *testing.T) {
	tests := []struct {
		name string
		blob func(f *fixture, t *testing.T) []byte
	}{
		{"not encrypted", func(*fixture, *testing.T) []byte { return baseLicense() }},
		{"malformed xml", func(f *fixture, t *testing.T) []byte { return f.seal(t, []byte("<SecurityPolicy")) }},
		{"wrong brand", func(f *fixture, t *testing.T) []byte {
			return f.seal(t, testutil.LicenseXML("Other Brand", testutil.Fragment("WebClient", "x")))
		}},
		{"missing brand", func(f *fixture, t *testing.T) []byte {
			return f.seal(t, testutil.LicenseXML("", testutil.Fragment("WebClient", "x")))
		}},
		{"duplicate fragment", func(f *fixture, t *testing.T) []byte {
			return f.seal(t, testutil.LicenseXML(testutil.Brand,
				testutil.Fragment("WebClient", "a"), testutil.Fragment("WebClient", "b")))
		}},
		{"other passphrase", func(_ *fixture, t *testing.T) []byte {
			c, err := security.NewCipher("someone-else", nil)
			require.NoError(t, err)
			blob, err := c.Encrypt(baseLicense())
			require.NoError(t, err)
			return blob
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			ok, err := f.svc.LoadLicenseFile(context.Background(), tt.blob(f, t))

			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, f.notifier.take())
			assert.NoFileExists(t, f.store.Path())
			assert.False(t, f.svc.Status().Loaded)
			assert.True(t, f.logs.ContainsMessage("license rejected"))

			audit, err := os.ReadFile(filepath.Join(f.dir, "license", "audit.jsonl"))
			require.NoError(t, err)
			assert.Contains(t, string(audit), `"action":"rejected"`)
		})
	}
}

func TestLoadLicenseFile_RejectedKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.load(t, baseLicense()))
	f.notifier.take()
	before, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)

	assert.False(t, f.load(t, testutil.LicenseXML("Other Brand")))

	after, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, f.svc.GetSecurityPolicy(context.Background(), appOps), 2)
}

func TestLoadLicenseFile_PersistFailure(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Store = failingStore{c.Store} })

	ok, err := f.svc.LoadLicenseFile(context.Background(), f.seal(t, baseLicense()))

	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeStorage))
	assert.Empty(t, f.notifier.take())
	assert.False(t, f.svc.Status().Loaded)
}

func TestLoadLicenseFile_DispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.dispatchErr = apperrors.NewInternalAppError("dispatch", notify.ErrInvalidDispatch)

	ok, err := f.svc.LoadLicenseFile(context.Background(), f.seal(t, baseLicense()))

	assert.False(t, ok)
	assert.ErrorIs(t, err, notify.ErrInvalidDispatch)
	assert.False(t, f.svc.Status().Loaded, "document is not swapped when dispatch fails")
}

func TestLoadLicenseFile_PicksUpStoredLicense(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(context.Background(), f.seal(t, baseLicense())))

	require.True(t, f.load(t, baseLicense()))
	assert.Empty(t, f.notifier.take(), "license copied to disk counts as the previous document")
}

func TestLoadLicenseFile_UnreadableStoredLicense(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(context.Background(), []byte("garbage")))

	require.True(t, f.load(t, baseLicense()))
	assert.Len(t, f.notifier.take(), 3, "unreadable stored license counts as no document")
}

func TestGetSecurityPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none := f.svc.GetSecurityPolicy(ctx, appWeb)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	require.True(t, f.load(t, testutil.LicenseXML(testutil.Brand,
		testutil.Fragment("Reports", "<Enabled>false</Enabled>"),
	)))

	assert.Equal(t, []string{testutil.Serialized("Reports", "<Enabled>false</Enabled>")},
		f.svc.GetSecurityPolicy(ctx, appOps), "absent Operator fragment is skipped")
	assert.Empty(t, f.svc.GetSecurityPolicy(ctx, appWeb))
	assert.Empty(t, f.svc.GetSecurityPolicy(ctx, uuid.New()))
}

func TestGetSecurityPolicy_LazyReloadIsShared(t *testing.T) {
	counting := &countingDecrypter{}
	f := newFixture(t, func(c *Config) {
		counting.Decrypter = c.Decrypter
		c.Decrypter = counting
	})
	require.NoError(t, f.store.Save(context.Background(), f.seal(t, baseLicense())))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, f.svc.GetSecurityPolicy(context.Background(), appOps), 2)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), counting.calls.Load())
}

func TestGetSecurityPolicy_DuringFirstLoad(t *testing.T) {
	var hook func()
	f := newFixture(t, func(c *Config) {
		c.Store = &hookStore{FileStore: c.Store.(*FileStore), afterSave: func() { hook() }}
	})

	var during []string
	hook = func() { during = f.svc.GetSecurityPolicy(context.Background(), appOps) }

	require.True(t, f.load(t, baseLicense()))

	assert.NotNil(t, during)
	assert.Empty(t, during, "reader sees no document until the load swaps it in")

	got := f.notifier.take()
	require.Len(t, got, 3, "first load still notifies every application")
	assert.Len(t, contentsFor(t, got, appOps), 2)
	assert.Len(t, f.svc.GetSecurityPolicy(context.Background(), appOps), 2)
}

func TestGetSecurityPolicy_ConcurrentWithLoads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	operator := func(level int) string {
		return testutil.Fragment("Operator", fmt.Sprintf("<Level>%d</Level>", level))
	}
	reports := testutil.Serialized("Reports", "<Enabled>true</Enabled>")

	const loads = 20
	valid := make(map[string]bool, loads)
	for i := 1; i <= loads; i++ {
		valid[testutil.Serialized("Operator", fmt.Sprintf("<Level>%d</Level>", i))] = true
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := f.svc.GetSecurityPolicy(ctx, appOps)
				if len(got) == 0 {
					continue
				}
				if assert.Len(t, got, 2) {
					assert.True(t, valid[got[0]], "unexpected operator fragment %q", got[0])
					assert.Equal(t, reports, got[1])
				}
			}
		}()
	}

	for i := 1; i <= loads; i++ {
		require.True(t, f.load(t, testutil.LicenseXML(testutil.Brand,
			testutil.Fragment("WebClient", "<MaxSessions>5</MaxSessions>"),
			operator(i),
			testutil.Fragment("Reports", "<Enabled>true</Enabled>"),
		)))

		got := f.notifier.take()
		assert.Equal(t, []string{
			testutil.Serialized("Operator", fmt.Sprintf("<Level>%d</Level>", i)),
			reports,
		}, contentsFor(t, got, appOps), "load %d", i)
	}

	close(stop)
	wg.Wait()
}

func TestRegisterListener(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cb := notify.NewMockCallback()

	assert.True(t, f.svc.RegisterListener(ctx, appWeb, notify.ProvideChangesContents, cb))
	assert.False(t, f.svc.RegisterListener(ctx, uuid.New(), notify.NotifyOnlyChanges, notify.NewMockCallback()))
	assert.True(t, f.logs.ContainsMessage("registration for unknown application rejected"))

	f.svc.UnregisterListener(ctx, cb)
	f.svc.UnregisterListener(ctx, cb)
	f.svc.UnregisterListener(ctx, nil)
}

func TestApplyStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.svc.ApplyStored(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "nothing stored yet")

	require.True(t, f.load(t, baseLicense()))
	f.notifier.take()

	next := testutil.LicenseXML(testutil.Brand,
		testutil.Fragment("WebClient", "<MaxSessions>9</MaxSessions>"),
		testutil.Fragment("Operator", "<Level>1</Level>"),
		testutil.Fragment("Reports", "<Enabled>true</Enabled>"),
	)
	require.NoError(t, f.store.Save(ctx, f.seal(t, next)))

	ok, err = f.svc.ApplyStored(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	got := f.notifier.take()
	assert.Equal(t, []string{testutil.Serialized("WebClient", "<MaxSessions>9</MaxSessions>")},
		contentsFor(t, got, appWeb))

	ok, err = f.svc.ApplyStored(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, f.notifier.take(), "reapplying the same file changes nothing")
}

func TestApplyStored_RejectsInvalidFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.load(t, baseLicense()))
	f.notifier.take()

	require.NoError(t, f.store.Save(ctx, f.seal(t, testutil.LicenseXML("Other Brand"))))

	ok, err := f.svc.ApplyStored(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.notifier.take())
	assert.Len(t, f.svc.GetSecurityPolicy(ctx, appOps), 2)
}

func TestService_WithHub(t *testing.T) {
	reg := newTestRegistry(t)
	logger, _ := testutil.NewTestLogger(t)
	hub := notify.NewHub(reg, notify.HubConfig{Logger: logger})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	f := newFixture(t, func(c *Config) { c.Notifier = hub })
	ctx := context.Background()

	contents := notify.NewMockCallback()
	broadcast := notify.NewMockCallback()
	require.True(t, f.svc.RegisterListener(ctx, appOps, notify.ProvideChangesContents, contents))
	require.True(t, f.svc.RegisterListener(ctx, appWeb, notify.NotifyOnlyChanges, broadcast))

	require.True(t, f.load(t, baseLicense()))

	require.Eventually(t, func() bool {
		return len(contents.Deliveries()) == 1 && len(broadcast.Deliveries()) == 1
	}, waitFor, tick)
	assert.Len(t, contents.Deliveries()[0].Payload, 2)
}
