package prefs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudgecal/internal/apperr"
	"nudgecal/internal/kv"
	"nudgecal/internal/model"
)

var now = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type failingKV struct{ kv.Store }

func (failingKV) Set(context.Context, string, string) error { return errors.New("read-only volume") }

func TestLoadEmptyStoreReturnsDefaults(t *testing.T) {
	p, err := NewStore(kv.NewMemory()).Load(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
	assert.True(t, p.ReminderEnabled("anything"))
	assert.Equal(t, 5*time.Minute, p.LeadTime())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(kv.NewMemory())

	p := Default()
	p.LeadTimeMinutes = 10
	p.Overrides["evt-off"] = false
	p.Overrides["evt-on"] = true
	p.SnoozeUntil["evt-snoozed"] = now.Add(3 * time.Minute)
	p.SnoozeUntil["evt-expired"] = now.Add(-time.Minute)
	p.Style = model.StyleFullscreen
	p.TimeFormat = model.TimeFormat24h
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Load(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 10, got.LeadTimeMinutes)
	assert.False(t, got.ReminderEnabled("evt-off"))
	assert.True(t, got.ReminderEnabled("evt-on"))
	assert.True(t, got.SnoozeUntil["evt-snoozed"].Equal(now.Add(3*time.Minute)))
	assert.NotContains(t, got.SnoozeUntil, "evt-expired")
	assert.Equal(t, model.StyleFullscreen, got.Style)
	assert.Equal(t, model.TimeFormat24h, got.TimeFormat)
}

func TestSnoozeEndingExactlyNowIsExpired(t *testing.T) {
	ctx := context.Background()
	s := NewStore(kv.NewMemory())
	p := Default()
	p.SnoozeUntil["evt"] = now
	require.NoError(t, s.Save(ctx, p, KeySnoozeUntil))

	got, err := s.Load(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, got.SnoozeUntil)
}

func TestLoadCorruptValuesFallsBackAndReports(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	require.NoError(t, backend.Set(ctx, string(KeyLeadTime), "soon"))
	require.NoError(t, backend.Set(ctx, string(KeyStyle), "neon"))
	require.NoError(t, backend.Set(ctx, string(KeyTimeFormat), "24h"))

	p, err := NewStore(backend).Load(ctx, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPreferencesLoadFailed)
	require.NotNil(t, p)
	assert.Equal(t, DefaultLeadTimeMinutes, p.LeadTimeMinutes)
	assert.Equal(t, model.StyleCompact, p.Style)
	assert.Equal(t, model.TimeFormat24h, p.TimeFormat)
}

func TestSaveFailureIsClassified(t *testing.T) {
	s := NewStore(failingKV{kv.NewMemory()})
	err := s.Save(context.Background(), Default(), KeyLeadTime)
	assert.ErrorIs(t, err, apperr.ErrPreferencesSaveFailed)
}

func TestCloneIsDeep(t *testing.T) {
	p := Default()
	p.Overrides["a"] = false
	c := p.Clone()
	c.Overrides["a"] = true
	c.SnoozeUntil["b"] = now
	assert.False(t, p.Overrides["a"])
	assert.Empty(t, p.SnoozeUntil)
}

func TestExportImportRoundTrip(t *testing.T) {
	p := Default()
	p.LeadTimeMinutes = 15
	p.Overrides["evt-off"] = false
	p.SnoozeUntil["evt-snoozed"] = now.Add(time.Hour)
	p.TimeFormat = model.TimeFormat24h

	data, err := Export(p)
	require.NoError(t, err)

	got, err := Import(data, now)
	require.NoError(t, err)
	assert.Equal(t, 15, got.LeadTimeMinutes)
	assert.Equal(t, map[string]bool{"evt-off": false}, got.Overrides)
	assert.True(t, got.SnoozeUntil["evt-snoozed"].Equal(now.Add(time.Hour)))
	assert.Equal(t, model.StyleCompact, got.Style)
	assert.Equal(t, model.TimeFormat24h, got.TimeFormat)
}

func TestImportRejectsInvalidValues(t *testing.T) {
	_, err := Import([]byte("display_style: neon\n"), now)
	assert.Error(t, err)

	_, err = Import([]byte("time_format: 36h\n"), now)
	assert.Error(t, err)

	_, err = Import([]byte("[not, a, mapping]\n"), now)
	assert.Error(t, err)
}

func TestImportFillsDefaults(t *testing.T) {
	got, err := Import([]byte("{}\n"), now)
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}
