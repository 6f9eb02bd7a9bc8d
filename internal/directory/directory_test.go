package directory

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagentic/gateway/internal/message"
	"github.com/tagentic/gateway/internal/vendor"
)

// stubVendor answers Info from a canned value and fails everything else.
type stubVendor struct {
	applicationID string
	infoName      string
	infoErr       error

	mu        sync.Mutex
	infoCalls int
}

func (s *stubVendor) Name() string { return "Stub" }

func (s *stubVendor) Info(ctx context.Context) (message.ApplicationInfo, error) {
	s.mu.Lock()
	s.infoCalls++
	s.mu.Unlock()
	if s.infoErr != nil {
		return message.ApplicationInfo{}, s.infoErr
	}
	return message.ApplicationInfo{ApplicationID: s.applicationID, Name: s.infoName}, nil
}

func (s *stubVendor) Chat(ctx context.Context, p vendor.ChatParams) (<-chan message.Envelope, error) {
	return nil, errors.New("not implemented")
}

func (s *stubVendor) Messages(ctx context.Context, p vendor.MessagesParams) ([]message.MsgRecord, error) {
	return nil, errors.New("not implemented")
}

func (s *stubVendor) Upload(ctx context.Context, r io.Reader, accountID, mimeType string) (string, error) {
	return "", vendor.ErrUnsupported
}

func (s *stubVendor) Rate(ctx context.Context, p vendor.RateParams) error {
	return vendor.ErrUnsupported
}

func stubFactory(name string) vendor.Factory {
	return func(applicationID string, settings vendor.Settings, deps vendor.Deps) vendor.Vendor {
		return &stubVendor{applicationID: applicationID, infoName: name}
	}
}

func TestNewResolvesVendors(t *testing.T) {
	dir, err := New([]Definition{
		{ID: "app-1", Vendor: "Stub"},
		{ID: "app-2", Vendor: "Stub"},
	}, map[string]vendor.Factory{"Stub": stubFactory("Bot")}, vendor.Deps{})
	require.NoError(t, err)

	inst, err := dir.Lookup("app-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", inst.ApplicationID)
	assert.Equal(t, "Stub", inst.VendorName)
	require.NotNil(t, inst.Vendor)

	instances := dir.Instances()
	require.Len(t, instances, 2)
	assert.Equal(t, "app-1", instances[0].ApplicationID)
	assert.Equal(t, "app-2", instances[1].ApplicationID)
}

func TestNewRejectsUnknownVendor(t *testing.T) {
	_, err := New([]Definition{{ID: "app-1", Vendor: "Nope"}},
		map[string]vendor.Factory{"Stub": stubFactory("Bot")}, vendor.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown vendor "Nope"`)
}

func TestNewRejectsDuplicateID(t *testing.T) {
	_, err := New([]Definition{
		{ID: "app-1", Vendor: "Stub"},
		{ID: "app-1", Vendor: "Stub"},
	}, map[string]vendor.Factory{"Stub": stubFactory("Bot")}, vendor.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate application id")
}

func TestLookupUnknownApplication(t *testing.T) {
	dir, err := New(nil, nil, vendor.Deps{})
	require.NoError(t, err)
	_, err = dir.Lookup("ghost")
	assert.ErrorIs(t, err, ErrUnknownApplication)
}

func newTestDirectory(t *testing.T, vendors ...*stubVendor) *Directory {
	t.Helper()
	dir := &Directory{byID: map[string]Instance{}}
	for _, v := range vendors {
		dir.byID[v.applicationID] = Instance{
			ApplicationID: v.applicationID,
			VendorName:    "Stub",
			Vendor:        v,
		}
		dir.order = append(dir.order, v.applicationID)
	}
	return dir
}

func TestInfoCacheRefresh(t *testing.T) {
	dir := newTestDirectory(t,
		&stubVendor{applicationID: "app-1", infoName: "First"},
		&stubVendor{applicationID: "app-2", infoName: "Second"},
	)
	cache := NewInfoCache(dir, time.Minute, zerolog.Nop(), nil)

	assert.Empty(t, cache.Apps())
	assert.True(t, cache.RefreshedAt().IsZero())

	require.NoError(t, cache.Refresh(context.Background()))

	apps := cache.Apps()
	require.Len(t, apps, 2)
	// Snapshot order tracks configuration order regardless of which
	// fetch finished first.
	assert.Equal(t, "First", apps[0].Name)
	assert.Equal(t, "Second", apps[1].Name)
	assert.False(t, cache.RefreshedAt().IsZero())
}

func TestInfoCacheRefreshDegradesFailedEntries(t *testing.T) {
	dir := newTestDirectory(t,
		&stubVendor{applicationID: "app-1", infoName: "Healthy"},
		&stubVendor{applicationID: "app-2", infoErr: errors.New("upstream down")},
	)
	cache := NewInfoCache(dir, time.Minute, zerolog.Nop(), nil)
	require.NoError(t, cache.Refresh(context.Background()))

	apps := cache.Apps()
	require.Len(t, apps, 2)
	assert.Equal(t, "Healthy", apps[0].Name)
	assert.Equal(t, "app-2", apps[1].ApplicationID)
	assert.Equal(t, "Unknown Application", apps[1].Name)
}

func TestInfoCacheSnapshotIsAtomic(t *testing.T) {
	dir := newTestDirectory(t,
		&stubVendor{applicationID: "app-1", infoName: "A"},
		&stubVendor{applicationID: "app-2", infoName: "B"},
	)
	cache := NewInfoCache(dir, time.Minute, zerolog.Nop(), nil)
	require.NoError(t, cache.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			_ = cache.Refresh(context.Background())
		}
	}()
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			// A reader must always see a complete snapshot, never a
			// half-written one.
			apps := cache.Apps()
			if len(apps) != 2 {
				t.Errorf("saw partial snapshot of %d apps", len(apps))
				return
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()
}

func TestInfoCacheRunRefreshesOnInterval(t *testing.T) {
	v := &stubVendor{applicationID: "app-1", infoName: "A"}
	dir := newTestDirectory(t, v)
	cache := NewInfoCache(dir, 5*time.Millisecond, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cache.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.infoCalls >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
