package sims

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/SimKeeper/internal/broker/messages"
	"github.com/BearBump/SimKeeper/internal/expiry"
	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	sims map[string]*models.SimCard

	gets int
}

func newFakeRepo() *fakeRepo { return &fakeRepo{sims: map[string]*models.SimCard{}} }

func (f *fakeRepo) LoadAll(ctx context.Context) ([]*models.SimCard, error) {
	var out []*models.SimCard
	for _, sc := range f.sims {
		cp := *sc
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*models.SimCard, error) {
	f.gets++
	sc, ok := f.sims[id]
	if !ok {
		return nil, models.ErrSimNotFound
	}
	cp := *sc
	return &cp, nil
}

func (f *fakeRepo) Create(ctx context.Context, sc *models.SimCard) error {
	cp := *sc
	f.sims[sc.ID] = &cp
	return nil
}

func (f *fakeRepo) Update(ctx context.Context, sc *models.SimCard) error {
	if _, ok := f.sims[sc.ID]; !ok {
		return models.ErrSimNotFound
	}
	cp := *sc
	f.sims[sc.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateLastUsage(ctx context.Context, id string, at time.Time) error {
	sc, ok := f.sims[id]
	if !ok {
		return models.ErrSimNotFound
	}
	sc.LastUsageDate = at
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.sims[id]; !ok {
		return models.ErrSimNotFound
	}
	delete(f.sims, id)
	return nil
}

type fakeCache struct {
	m map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	delete(c.m, key)
	return nil
}

func TestService_Flow(t *testing.T) {
	now := time.Date(2025, 6, 27, 12, 0, 0, 0, time.UTC)
	r := newFakeRepo()
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, time.Minute).WithClock(func() time.Time { return now })

	created, err := s.Create(context.Background(), models.SimCardCreateInput{
		Label:         "EE",
		PhoneNumber:   "+44 7700 900123",
		LastUsageDate: now.AddDate(0, 0, -177),
	})
	require.NoError(t, err)
	require.Equal(t, 3, created.DaysRemaining)
	require.True(t, created.DueForAutoSend)
	require.Contains(t, c.m, "sim:"+created.ID+":current")

	// второй Get обслуживается из кэша
	_, err = s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, 0, r.gets)

	confirmed, err := s.ConfirmUsage(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, 180, confirmed.DaysRemaining)
	require.Equal(t, models.ExpiryStatusSafe, confirmed.Status)

	require.NoError(t, s.Delete(context.Background(), created.ID))
	require.Empty(t, c.m)
	_, err = s.Get(context.Background(), created.ID)
	require.ErrorIs(t, err, models.ErrSimNotFound)
}

func TestService_ApplyDispatchEvent_ReplacesStaleCacheEntry(t *testing.T) {
	now := time.Date(2025, 6, 27, 12, 0, 0, 0, time.UTC)
	r := newFakeRepo()
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, c, time.Minute).WithClock(func() time.Time { return now })

	created, err := s.Create(context.Background(), models.SimCardCreateInput{
		Label:         "EE",
		PhoneNumber:   "07700900123",
		LastUsageDate: now.AddDate(0, 0, -178),
	})
	require.NoError(t, err)

	// воркер обновил дату в БД мимо кэша API
	require.NoError(t, r.UpdateLastUsage(context.Background(), created.ID, now))
	require.NoError(t, s.ApplyDispatchEvent(context.Background(), messages.KeepAliveDispatched{
		SimID: created.ID, Success: true, LastUsageDate: &now,
	}))

	var cached models.SimCard
	require.NoError(t, json.Unmarshal(c.m["sim:"+created.ID+":current"], &cached))
	require.True(t, now.Equal(cached.LastUsageDate))
}

func TestService_CustomPolicy(t *testing.T) {
	now := time.Date(2025, 6, 27, 12, 0, 0, 0, time.UTC)
	r := newFakeRepo()
	r.sims["a"] = &models.SimCard{ID: "a", LastUsageDate: now.AddDate(0, 0, -85)}
	s := New(r, nil, 0).
		WithClock(func() time.Time { return now }).
		WithPolicy(expiry.Policy{ExpiryDays: 90, WarningDays: 20, CriticalDays: 5, AutoSendBufferDays: 5})

	out, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 5, out[0].DaysRemaining)
	require.True(t, out[0].DueForAutoSend)
	require.Equal(t, models.ExpiryStatusCritical, out[0].Status)
}
