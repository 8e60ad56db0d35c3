package roles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// metadataFile is the on-disk format of enum metadata overrides:
//
//	roles:
//	  librarian:
//	    labels: {en: Librarian, fr: Bibliothécaire}
//	    color: "#1D4ED8"
type metadataFile struct {
	Roles map[string]Metadata `yaml:"roles"`
}

// MetadataLoader applies enum metadata overrides read from a YAML file and
// reapplies them whenever the file changes.
type MetadataLoader struct {
	path  string
	apply func(MetadataTable)
	log   *logrus.Logger
}

// NewMetadataLoader creates a loader that pushes merged tables to apply,
// typically Registry.SetMetadata.
func NewMetadataLoader(path string, apply func(MetadataTable), log *logrus.Logger) *MetadataLoader {
	if log == nil {
		log = logrus.New()
	}
	return &MetadataLoader{path: path, apply: apply, log: log}
}

// Load reads the file and applies it on top of the built-in metadata.
// A missing file applies the built-in metadata unchanged.
func (l *MetadataLoader) Load() error {
	table, err := ParseMetadataFile(l.path)
	if err != nil {
		return err
	}
	l.apply(table)
	return nil
}

// ParseMetadataFile returns the built-in metadata merged with the overrides in path.
func ParseMetadataFile(path string) (MetadataTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultMetadata(), nil
		}
		return nil, fmt.Errorf("failed to read role metadata %s: %w", path, err)
	}

	var f metadataFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse role metadata %s: %w", path, err)
	}

	table, err := DefaultMetadata().WithOverrides(f.Roles)
	if err != nil {
		return nil, fmt.Errorf("invalid role metadata %s: %w", path, err)
	}
	return table, nil
}

// Watch reloads the file on every write until ctx is cancelled. The parent
// directory is watched so that editors replacing the file are noticed. A file
// that fails to parse is logged and the previous metadata stays in effect.
func (l *MetadataLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(l.path)
	l.log.Infof("Watching role metadata file %s", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := l.Load(); err != nil {
				l.log.WithError(err).Warn("Keeping previous role metadata")
				continue
			}
			l.log.WithField("file", target).Info("Reloaded role metadata")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.WithError(err).Warn("Role metadata watcher error")
		}
	}
}
