package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bnema/greenscore/internal/domain"
	"github.com/bnema/greenscore/internal/ports"
)

const (
	KeyTheme   = "greenscore.ui.theme"
	KeyDensity = "greenscore.ui.density"
)

type PreferencesService struct {
	store ports.KVStore

	mu      sync.Mutex
	current domain.Preferences
}

func NewPreferencesService(store ports.KVStore) *PreferencesService {
	return &PreferencesService{store: store, current: domain.DefaultPreferences()}
}

func (s *PreferencesService) Current() domain.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Hydrate loads the stored preferences. Missing or unrecognised values keep
// their defaults.
func (s *PreferencesService) Hydrate(ctx context.Context) (domain.Preferences, error) {
	prefs := domain.DefaultPreferences()

	rawTheme, err := s.read(ctx, KeyTheme)
	if err != nil {
		return domain.Preferences{}, err
	}
	if theme, err := domain.ParseTheme(rawTheme); err == nil {
		prefs.Theme = theme
	}

	rawDensity, err := s.read(ctx, KeyDensity)
	if err != nil {
		return domain.Preferences{}, err
	}
	if density, err := domain.ParseDensity(rawDensity); err == nil {
		prefs.Density = density
	}

	s.mu.Lock()
	s.current = prefs
	s.mu.Unlock()
	return prefs, nil
}

func (s *PreferencesService) SetTheme(ctx context.Context, theme domain.Theme) error {
	if _, err := domain.ParseTheme(string(theme)); err != nil {
		return err
	}
	if err := s.store.Set(ctx, KeyTheme, string(theme)); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}

	s.mu.Lock()
	s.current.Theme = theme
	s.mu.Unlock()
	return nil
}

func (s *PreferencesService) SetDensity(ctx context.Context, density domain.Density) error {
	if _, err := domain.ParseDensity(string(density)); err != nil {
		return err
	}
	if err := s.store.Set(ctx, KeyDensity, string(density)); err != nil {
		return fmt.Errorf("save density: %w", err)
	}

	s.mu.Lock()
	s.current.Density = density
	s.mu.Unlock()
	return nil
}

func (s *PreferencesService) read(ctx context.Context, key string) (string, error) {
	value, err := s.store.Get(ctx, key)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}
