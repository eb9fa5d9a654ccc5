package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
)

// Store is the database surface the dynamic manager needs: the game_config
// table, read whole and upserted one top-level key at a time.
type Store interface {
	ListGameConfig(ctx context.Context) (map[string]json.RawMessage, error)
	UpsertGameConfig(ctx context.Context, key string, value json.RawMessage, modifiedBy string) error
}

// Dynamic is the hierarchical game-config manager. Authoritative order:
// database rows overlay YAML file defaults; a background task re-reads the
// database on a timer, and an fsnotify watcher reloads YAML on change.
type Dynamic struct {
	dir        string
	store      Store
	refreshTTL time.Duration

	mu       sync.RWMutex
	merged   map[string]any // yaml defaults + db overlay
	defaults map[string]any // yaml-only snapshot, fallback on missing paths
	overlay  map[string]any // last db overlay, re-applied on yaml reload
	schemas  map[string]*Schema

	initialized    bool
	refreshRunning bool

	Metrics *Metrics
	log     zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDynamic builds an unloaded manager. Call Load before Get/Set, then
// Start for background refresh.
func NewDynamic(dir string, store Store, refreshTTL time.Duration) *Dynamic {
	if refreshTTL <= 0 {
		refreshTTL = 300 * time.Second
	}
	return &Dynamic{
		dir:        dir,
		store:      store,
		refreshTTL: refreshTTL,
		merged:     map[string]any{},
		defaults:   map[string]any{},
		overlay:    map[string]any{},
		schemas:    map[string]*Schema{},
		Metrics:    &Metrics{},
		log:        logging.WithComponent("dynamic_config"),
	}
}

// RegisterSchema installs a validation schema for a top-level key. Writes to
// unregistered keys bypass validation.
func (d *Dynamic) RegisterSchema(topKey string, s *Schema) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schemas[topKey] = s
}

// Load reads all YAML files under the config directory and overlays the
// game_config table. Failure of either source is fatal at startup.
func (d *Dynamic) Load(ctx context.Context) error {
	base, err := loadYAMLDir(d.dir)
	if err != nil {
		return &InitializationError{Reason: "loading yaml config", Err: err}
	}

	overlay := map[string]any{}
	if d.store != nil {
		rows, err := d.store.ListGameConfig(ctx)
		if err != nil {
			return &InitializationError{Reason: "reading game_config", Err: err}
		}
		for key, raw := range rows {
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				d.log.Error().Str("key", key).Err(err).Msg("malformed game_config row, skipping")
				d.Metrics.recordError()
				continue
			}
			overlay[key] = value
		}
	}

	d.mu.Lock()
	d.defaults = deepCopyMap(base)
	d.overlay = overlay
	d.merged = applyOverlay(base, overlay)
	d.initialized = true
	d.mu.Unlock()

	d.log.Info().
		Int("top_level_keys", len(d.merged)).
		Int("db_overrides", len(overlay)).
		Msg("dynamic config loaded")
	return nil
}

// Start launches the database refresh loop and the YAML directory watcher.
// Stop cancels both.
func (d *Dynamic) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	d.mu.Lock()
	d.refreshRunning = true
	d.mu.Unlock()

	go d.refreshLoop(ctx)
	go d.watchLoop(ctx)
}

// Stop cancels the background workers and waits for the refresh loop.
func (d *Dynamic) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	d.mu.Lock()
	d.refreshRunning = false
	d.mu.Unlock()
}

func (d *Dynamic) refreshLoop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.refreshTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				d.log.Error().Err(err).Msg("dynamic config refresh failed")
				d.Metrics.recordError()
			}
		}
	}
}

// Refresh re-reads the game_config table and rebuilds the merged view.
// YAML defaults are not re-read here; the watcher handles file changes.
func (d *Dynamic) Refresh(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	rows, err := d.store.ListGameConfig(ctx)
	if err != nil {
		return fmt.Errorf("refresh game_config: %w", err)
	}

	overlay := map[string]any{}
	for key, raw := range rows {
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			d.log.Error().Str("key", key).Err(err).Msg("malformed game_config row, skipping")
			continue
		}
		overlay[key] = value
	}

	d.mu.Lock()
	d.overlay = overlay
	d.merged = applyOverlay(d.defaults, overlay)
	d.mu.Unlock()

	d.Metrics.recordRefresh()
	metrics.ConfigRefreshes.Inc()
	return nil
}

// watchLoop reloads the YAML defaults when files under the config directory
// change. Events are debounced; a burst of writes triggers one reload.
func (d *Dynamic) watchLoop(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warn().Err(err).Msg("fsnotify unavailable, yaml hot reload disabled")
		return
	}
	defer func() { _ = watcher.Close() }()

	_ = filepath.WalkDir(d.dir, func(path string, entry fs.DirEntry, err error) error {
		if err == nil && entry.IsDir() {
			_ = watcher.Add(path)
		}
		return nil
	})

	var debounce *time.Timer
	reload := func() {
		base, err := loadYAMLDir(d.dir)
		if err != nil {
			d.log.Error().Err(err).Msg("yaml reload failed, keeping previous defaults")
			d.Metrics.recordError()
			return
		}
		d.mu.Lock()
		d.defaults = deepCopyMap(base)
		d.merged = applyOverlay(base, d.overlay)
		d.mu.Unlock()
		d.log.Info().Msg("yaml config reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Get walks the merged map by dot path. On any missing segment it falls back
// to the YAML defaults snapshot, and finally to the caller's default.
func (d *Dynamic) Get(path string, def any) any {
	start := time.Now()
	d.mu.RLock()
	value, ok := walkPath(d.merged, path)
	if !ok {
		value, ok = walkPath(d.defaults, path)
		d.mu.RUnlock()
		d.Metrics.recordGet(false, ok, time.Since(start))
		if ok {
			return value
		}
		return def
	}
	d.mu.RUnlock()
	d.Metrics.recordGet(true, false, time.Since(start))
	return value
}

// GetInt64 returns the value at path coerced to int64, or def.
func (d *Dynamic) GetInt64(path string, def int64) int64 {
	switch v := d.Get(path, nil).(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return def
}

// GetInt returns the value at path coerced to int, or def.
func (d *Dynamic) GetInt(path string, def int) int {
	return int(d.GetInt64(path, int64(def)))
}

// GetFloat returns the value at path coerced to float64, or def.
func (d *Dynamic) GetFloat(path string, def float64) float64 {
	switch v := d.Get(path, nil).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// GetString returns the string at path, or def.
func (d *Dynamic) GetString(path string, def string) string {
	if v, ok := d.Get(path, nil).(string); ok {
		return v
	}
	return def
}

// GetBool returns the bool at path, or def.
func (d *Dynamic) GetBool(path string, def bool) bool {
	if v, ok := d.Get(path, nil).(bool); ok {
		return v
	}
	return def
}

// GetDuration reads a seconds-valued number at path.
func (d *Dynamic) GetDuration(path string, def time.Duration) time.Duration {
	secs := d.GetFloat(path, -1)
	if secs < 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// Set validates the resulting top-level subtree against any registered
// schema, upserts the game_config row, and updates the in-memory view. The
// in-memory map changes only after the database write succeeds.
func (d *Dynamic) Set(ctx context.Context, path string, value any, modifiedBy string) error {
	start := time.Now()
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return &ValidationError{Path: path, Reason: "empty config path"}
	}
	topKey := segments[0]

	d.mu.RLock()
	subtree := deepCopyValue(d.merged[topKey])
	schema := d.schemas[topKey]
	d.mu.RUnlock()

	var newSubtree any
	if len(segments) == 1 {
		newSubtree = value
	} else {
		m, ok := subtree.(map[string]any)
		if !ok {
			m = map[string]any{}
		}
		if err := setPath(m, segments[1:], value); err != nil {
			return &ValidationError{Path: path, Reason: err.Error()}
		}
		newSubtree = m
	}

	if schema != nil {
		if err := schema.Validate(topKey, newSubtree); err != nil {
			d.Metrics.recordError()
			return err
		}
	}

	raw, err := json.Marshal(newSubtree)
	if err != nil {
		return fmt.Errorf("marshal config subtree %s: %w", topKey, err)
	}
	if d.store != nil {
		if err := d.store.UpsertGameConfig(ctx, topKey, raw, modifiedBy); err != nil {
			d.Metrics.recordError()
			return fmt.Errorf("persist config %s: %w", topKey, err)
		}
	}

	d.mu.Lock()
	d.merged[topKey] = newSubtree
	d.overlay[topKey] = deepCopyValue(newSubtree)
	d.mu.Unlock()

	d.Metrics.recordSet(time.Since(start))
	d.log.Info().Str("path", path).Str("modified_by", modifiedBy).Msg("dynamic config updated")
	return nil
}

// HealthSnapshot reports whether the manager is serving and refreshing.
type HealthSnapshot struct {
	Initialized    bool            `json:"initialized"`
	RefreshRunning bool            `json:"refresh_running"`
	CachedConfigs  int             `json:"cached_configs"`
	Healthy        bool            `json:"healthy"`
	Metrics        MetricsSnapshot `json:"metrics"`
}

// Health returns the health snapshot: healthy when initialized, refreshing,
// holding at least one config, and below the error budget.
func (d *Dynamic) Health() HealthSnapshot {
	d.mu.RLock()
	snap := HealthSnapshot{
		Initialized:    d.initialized,
		RefreshRunning: d.refreshRunning,
		CachedConfigs:  len(d.merged),
	}
	d.mu.RUnlock()
	snap.Metrics = d.Metrics.Snapshot()
	snap.Healthy = snap.Initialized && snap.RefreshRunning && snap.CachedConfigs > 0 && snap.Metrics.Errors < 10
	return snap
}

// loadYAMLDir recursively loads every *.yaml / *.yml under dir, merging
// later files over earlier ones in lexical walk order.
func loadYAMLDir(dir string) (map[string]any, error) {
	merged := map[string]any{}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// An absent config dir is fine; DB rows may be the only source.
			return merged, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config path %s is not a directory", dir)
	}

	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		deepMerge(merged, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// deepMerge merges src into dst, descending into maps and replacing leaves.
func deepMerge(dst, src map[string]any) {
	for key, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := dst[key].(map[string]any); ok {
				deepMerge(dm, sm)
				continue
			}
		}
		dst[key] = sv
	}
}

// applyOverlay returns a fresh map: a deep copy of base with each overlay
// top-level key replacing the whole base subtree. Database wins over YAML.
func applyOverlay(base, overlay map[string]any) map[string]any {
	out := deepCopyMap(base)
	for key, value := range overlay {
		out[key] = deepCopyValue(value)
	}
	return out
}

// walkPath resolves a dot path in a nested map. Traversal across a
// non-container segment returns absent, never an error.
func walkPath(m map[string]any, path string) (any, bool) {
	var current any = m
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath writes value at the segment path, creating intermediate maps.
// A non-container intermediate node is an error rather than silent data loss.
func setPath(m map[string]any, segments []string, value any) error {
	for i, segment := range segments[:len(segments)-1] {
		child, present := m[segment]
		if !present {
			next := map[string]any{}
			m[segment] = next
			m = next
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("segment %q is not a mapping", strings.Join(segments[:i+1], "."))
		}
		m = next
	}
	m[segments[len(segments)-1]] = value
	return nil
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
