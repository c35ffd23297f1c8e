package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"nudgecal/internal/apperr"
	"nudgecal/internal/kv"
	appLog "nudgecal/internal/log"
	"nudgecal/internal/model"
)

// Store reads and writes Preferences through a kv.Store.
type Store struct {
	kv kv.Store
}

func NewStore(backend kv.Store) *Store {
	return &Store{kv: backend}
}

// Load reads every key. Missing keys take their defaults. Keys that fail
// to read or decode also take their defaults and are reported together
// as a PreferencesLoadFailed error; the returned Preferences is always
// usable. Snoozes that ended at or before now are dropped.
func (s *Store) Load(ctx context.Context, now time.Time) (*Preferences, error) {
	p := Default()
	var failed []error

	for _, key := range AllKeys {
		raw, err := s.kv.Get(ctx, string(key))
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err == nil {
			err = decodeInto(p, key, raw)
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", key, err))
		}
	}

	p.normalize()
	p.PruneSnoozes(now)

	if len(failed) > 0 {
		return p, apperr.New(apperr.KindPreferencesLoadFailed, "", errors.Join(failed...))
	}
	appLog.Debug("preferences loaded", "lead_time_minutes", p.LeadTimeMinutes, "overrides", len(p.Overrides), "snoozes", len(p.SnoozeUntil))
	return p, nil
}

// Save writes the given keys, or every key when none are named. All keys
// are attempted; failures come back as one PreferencesSaveFailed error.
func (s *Store) Save(ctx context.Context, p *Preferences, keys ...Key) error {
	if len(keys) == 0 {
		keys = AllKeys
	}
	var failed []error
	for _, key := range keys {
		raw, err := encode(p, key)
		if err == nil {
			err = s.kv.Set(ctx, string(key), raw)
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", key, err))
		}
	}
	if len(failed) > 0 {
		return apperr.New(apperr.KindPreferencesSaveFailed, "", errors.Join(failed...))
	}
	return nil
}

func encode(p *Preferences, key Key) (string, error) {
	switch key {
	case KeyLeadTime:
		return strconv.Itoa(p.LeadTimeMinutes), nil
	case KeyOverrides:
		b, err := json.Marshal(p.Overrides)
		return string(b), err
	case KeySnoozeUntil:
		out := make(map[string]string, len(p.SnoozeUntil))
		for id, until := range p.SnoozeUntil {
			out[id] = until.UTC().Format(time.RFC3339Nano)
		}
		b, err := json.Marshal(out)
		return string(b), err
	case KeyStyle:
		return string(p.Style), nil
	case KeyTimeFormat:
		return string(p.TimeFormat), nil
	default:
		return "", fmt.Errorf("unknown key %q", key)
	}
}

func decodeInto(p *Preferences, key Key, raw string) error {
	switch key {
	case KeyLeadTime:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("lead time must be positive, got %d", n)
		}
		p.LeadTimeMinutes = n
	case KeyOverrides:
		m := make(map[string]bool)
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return err
		}
		p.Overrides = m
	case KeySnoozeUntil:
		m := make(map[string]string)
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return err
		}
		out := make(map[string]time.Time, len(m))
		for id, v := range m {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return fmt.Errorf("snooze for %s: %w", id, err)
			}
			out[id] = t
		}
		p.SnoozeUntil = out
	case KeyStyle:
		st := model.DisplayStyle(raw)
		if !st.Valid() {
			return fmt.Errorf("unknown display style %q", raw)
		}
		p.Style = st
	case KeyTimeFormat:
		tf := model.TimeFormat(raw)
		if !tf.Valid() {
			return fmt.Errorf("unknown time format %q", raw)
		}
		p.TimeFormat = tf
	}
	return nil
}
