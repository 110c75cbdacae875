package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/shrikeio/shrike/internal/store"
	"github.com/shrikeio/shrike/internal/types"
)

// Loader reads a directory of policy manifests and swaps the decoded
// templates and constraints into the store as one new policy version.
type Loader struct {
	dir    string
	store  *store.Store
	logger *zap.Logger
}

// NewLoader creates a Loader for the given policy directory.
func NewLoader(dir string, s *store.Store, logger *zap.Logger) *Loader {
	return &Loader{
		dir:    dir,
		store:  s,
		logger: logger.Named("loader"),
	}
}

// Load parses every .yaml/.yml file under the directory and replaces the
// policy set. On error the store is left untouched, so a bad edit during
// hot reload keeps the previous policy version serving.
func (l *Loader) Load() error {
	templates, constraints, err := l.parseDir()
	if err != nil {
		return err
	}

	if err := l.store.Replace(templates, constraints); err != nil {
		return fmt.Errorf("failed to replace policy set: %w", err)
	}

	l.logger.Info("Loaded policy directory",
		zap.String("dir", l.dir),
		zap.Int("templates", len(templates)),
		zap.Int("constraints", len(constraints)))
	return nil
}

func (l *Loader) parseDir() ([]types.Template, []types.Constraint, error) {
	var files []string
	err := filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk policy dir %s: %w", l.dir, err)
	}
	sort.Strings(files)

	var templates []types.Template
	var constraints []types.Constraint
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		for i, doc := range SplitDocuments(data) {
			obj, err := DecodeObject(doc)
			if err != nil {
				return nil, nil, fmt.Errorf("%s document %d: %w", path, i+1, err)
			}
			if isList(obj) {
				l.logger.Warn("Skipping list document", zap.String("file", path), zap.Int("document", i+1))
				continue
			}

			switch {
			case IsTemplate(obj):
				tpl, err := DecodeTemplate(obj)
				if err != nil {
					return nil, nil, fmt.Errorf("%s: %w", path, err)
				}
				templates = append(templates, tpl)
			case IsConstraint(obj):
				c, err := DecodeConstraint(obj)
				if err != nil {
					return nil, nil, fmt.Errorf("%s: %w", path, err)
				}
				constraints = append(constraints, c)
			default:
				l.logger.Warn("Skipping unrecognized document",
					zap.String("file", path),
					zap.String("apiVersion", obj.GetAPIVersion()),
					zap.String("kind", obj.GetKind()))
			}
		}
	}
	return templates, constraints, nil
}
