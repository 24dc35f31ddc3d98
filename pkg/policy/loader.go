package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadDelay is how long the watcher waits for a burst of file events to
// settle before reloading.
const ReloadDelay = 500 * time.Millisecond

// Loader reads exclusion policies from .rego files and from .json files
// that embed their Rego source.
type Loader struct {
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths loads every policy under paths. A path is a policy file or
// a directory searched recursively. Unreadable files inside a directory are
// skipped with a warning; a named file that cannot be read is an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		if !info.IsDir() {
			p, err := readPolicyFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
			}
			all = append(all, *p)
			continue
		}

		found, err := l.loadDirectory(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, found...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

func (l *Loader) loadDirectory(dir string) ([]Policy, error) {
	var found []Policy
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}
		p, err := readPolicyFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			return nil
		}
		found = append(found, *p)
		return nil
	})
	return found, err
}

// readPolicyFile parses one policy file. The policy is named after the
// file unless a JSON definition names it.
func readPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(path)
	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ext),
		Enabled:  true,
		Source:   path,
		LoadedAt: time.Now(),
	}

	switch ext {
	case ".rego":
		p.Rego = string(data)
		p.Description = leadingComment(p.Rego)
	case ".json":
		var def struct {
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Rego        string   `json:"rego"`
			Enabled     *bool    `json:"enabled"`
			Tags        []string `json:"tags"`
		}
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
		}
		if def.Name != "" {
			p.Name = def.Name
		}
		if def.Rego == "" {
			return nil, fmt.Errorf("policy %s has no rego source", p.Name)
		}
		p.Rego = def.Rego
		p.Description = def.Description
		if p.Description == "" {
			p.Description = leadingComment(def.Rego)
		}
		if def.Enabled != nil {
			p.Enabled = *def.Enabled
		}
		p.Tags = def.Tags
	default:
		return nil, fmt.Errorf("unsupported policy file type %q", ext)
	}

	return p, nil
}

// leadingComment joins the comment lines before the first line of code.
func leadingComment(src string) string {
	var words []string
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		if text := strings.TrimSpace(strings.TrimPrefix(line, "#")); text != "" {
			words = append(words, text)
		}
	}
	return strings.Join(words, " ")
}

// Watch reloads the policies under paths whenever a policy file changes and
// passes the new set to reload. It returns once the watcher is running and
// stops when ctx is done or StopWatching is called. A failed reload is
// logged and the previous set stays in effect.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		if err := l.addWatch(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	go l.watchLoop(ctx, paths, reload)

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

// addWatch watches a directory tree, or the parent of a file since editors
// replace files on save.
func (l *Loader) addWatch(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return l.watcher.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(p)
		}
		return nil
	})
}

func (l *Loader) watchLoop(ctx context.Context, paths []string, reload func([]Policy) error) {
	watcher := l.watcher
	defer watcher.Close()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := l.addWatch(event.Name); err != nil {
						l.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}
			if event.Op == fsnotify.Chmod || !isPolicyFile(event.Name) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			settle = time.After(ReloadDelay)

		case <-settle:
			settle = nil
			policies, err := l.LoadFromPaths(ctx, paths)
			if err == nil {
				err = reload(policies)
			}
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
				continue
			}
			l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	if errors.Is(err, fsnotify.ErrClosed) {
		return nil
	}
	return err
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}
