package devconfig

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"nithronos/device/nosfw/internal/fsatomic"
)

// Store is the single owner of DeviceConfig. It keeps the last loaded or
// saved record in memory and writes every mutation straight to disk.
type Store struct {
	path     string
	defaults DeviceConfig
	log      zerolog.Logger

	mu  sync.Mutex
	cur DeviceConfig
}

// New returns a store persisting to path. defaults is what Load returns when
// no usable record exists (normally Defaults() or a factory overlay).
func New(path string, defaults DeviceConfig, logger zerolog.Logger) *Store {
	return &Store{
		path:     path,
		defaults: defaults,
		log:      logger.With().Str("component", "configstore").Logger(),
		cur:      defaults,
	}
}

func (s *Store) Path() string { return s.path }

// Load reads the persisted record. A missing or corrupt record is not an
// error for the caller: the defaults are returned and the problem is logged.
// Fields absent from an older record keep their default values.
func (s *Store) Load() DeviceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.defaults
	ok, err := fsatomic.LoadJSON(s.path, &c)
	switch {
	case err != nil:
		s.log.Warn().Err(&StoreError{Reason: ReasonUnreadable, Err: err}).Msg("using default configuration")
		c = s.defaults
	case !ok:
		s.log.Info().Str("path", s.path).Msg("no configuration record; using defaults")
	}
	s.cur = c
	return c
}

// Current returns the in-memory record without touching disk.
func (s *Store) Current() DeviceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Save persists c. On failure the previous record stays on disk and in memory.
func (s *Store) Save(ctx context.Context, c DeviceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, c)
}

// Update applies fn to a copy of the current record and saves the result.
// If fn returns an error nothing is written.
func (s *Store) Update(ctx context.Context, fn func(*DeviceConfig) error) (DeviceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	if err := fn(&next); err != nil {
		return s.cur, err
	}
	if err := s.saveLocked(ctx, next); err != nil {
		return s.cur, err
	}
	return next, nil
}

func (s *Store) saveLocked(ctx context.Context, c DeviceConfig) error {
	err := fsatomic.WithLock(s.path, func() error {
		return fsatomic.SaveJSON(ctx, s.path, c, 0o600)
	})
	if err != nil {
		return &StoreError{Reason: ReasonWriteFailure, Err: err}
	}
	s.cur = c
	s.log.Debug().Str("path", s.path).Msg("configuration saved")
	return nil
}
