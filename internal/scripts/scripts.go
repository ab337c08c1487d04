// internal/scripts/scripts.go
package scripts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Name is the logical name of an injectable script.
type Name string

const (
	IsElementInViewport     Name = "isElementInViewport"
	GetElementBorder        Name = "getElementBorder"
	RemoveElementBorder     Name = "removeElementBorder"
	UnhighlightLastElement  Name = "unhighlightLastElement"
	ScrollElementIntoMiddle Name = "scrollElementIntoMiddle"
)

// ErrUnknownScript is returned for names outside the fixed script set.
var ErrUnknownScript = errors.New("unknown script")

//go:embed js/*.js
var embedded embed.FS

// Names lists every script the engine may request, in a stable order.
func Names() []Name {
	return []Name{
		IsElementInViewport,
		GetElementBorder,
		RemoveElementBorder,
		UnhighlightLastElement,
		ScrollElementIntoMiddle,
	}
}

func known(name Name) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Repository resolves script bodies by logical name. Lookups are idempotent and
// free of side effects.
type Repository interface {
	Get(name Name) (string, error)
}

// Store serves the embedded script bodies, optionally shadowed by files of the
// same name (`<name>.js`) in an override file system.
type Store struct {
	override afero.Fs
	logger   *zap.Logger
}

var _ Repository = (*Store)(nil)

// NewStore creates a repository. override may be nil.
func NewStore(override afero.Fs, logger *zap.Logger) *Store {
	return &Store{
		override: override,
		logger:   logger.Named("scripts"),
	}
}

// NewDirStore creates a repository whose overrides are read from dir on the
// host file system. An empty dir means embedded scripts only.
func NewDirStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return NewStore(nil, logger), nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("script override directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("script override path %q is not a directory", dir)
	}
	return NewStore(afero.NewBasePathFs(afero.NewOsFs(), dir), logger), nil
}

// Get returns the body of the named script.
func (s *Store) Get(name Name) (string, error) {
	if !known(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownScript, name)
	}
	file := string(name) + ".js"

	if s.override != nil {
		b, err := afero.ReadFile(s.override, file)
		switch {
		case err == nil:
			s.logger.Debug("Using script override.", zap.String("script", string(name)))
			return validBody(name, b)
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("failed to read script override %s: %w", file, err)
		}
	}

	b, err := fs.ReadFile(embedded, "js/"+file)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded script %s: %w", file, err)
	}
	return validBody(name, b)
}

func validBody(name Name, b []byte) (string, error) {
	body := strings.TrimSpace(string(b))
	if body == "" {
		return "", fmt.Errorf("script %q is empty", name)
	}
	return body, nil
}
