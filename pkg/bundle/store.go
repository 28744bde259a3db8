package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bundleforge/bundleforge/pkg/errdefs"
	"github.com/bundleforge/bundleforge/pkg/telemetry"
	"github.com/bundleforge/bundleforge/pkg/version"
)

// File names inside a version directory.
const (
	DescriptorFile = "bundle.yaml"
	LockFile       = "requirements.lock"
	WorkflowFile   = "workflow.json"
	ExtraPathsFile = "extra_model_paths.yaml"

	currentLink = "current"
)

// Store is a filesystem-backed registry of bundles. Layout:
//
//	<root>/<bundle>/<version>/{bundle.yaml, requirements.lock, workflow.json}
//	<root>/<bundle>/current -> <version>
//
// The store performs no internal locking; concurrent writers against the same
// bundle are the caller's responsibility to serialize.
type Store struct {
	root string
	log  *telemetry.Logger
}

// NewStore creates a store rooted at the given directory.
func NewStore(root string, log *telemetry.Logger) *Store {
	return &Store{root: root, log: log.NewComponentLogger("bundle-store")}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Info summarizes one bundle for listing.
type Info struct {
	Name           string
	CurrentVersion version.ID
	VersionCount   int
}

// VersionInfo summarizes one version of a bundle for listing.
type VersionInfo struct {
	Version     version.ID
	Tested      bool
	Description string
}

// BundlePath returns the directory of the named bundle.
func (s *Store) BundlePath(name string) string {
	return filepath.Join(s.root, name)
}

// VersionPath returns the directory of one version of a bundle.
func (s *Store) VersionPath(name string, v version.ID) string {
	return filepath.Join(s.root, name, string(v))
}

// ListBundles scans the store root and returns every bundle that has at least
// one version. Hidden entries are skipped.
func (s *Store) ListBundles() ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read bundle store: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		versions, err := s.versionIDs(e.Name())
		if err != nil {
			s.log.WithError(err).Warnf("skipping unreadable bundle %s", e.Name())
			continue
		}
		if len(versions) == 0 {
			continue
		}
		out = append(out, Info{
			Name:           e.Name(),
			CurrentVersion: s.CurrentVersion(e.Name()),
			VersionCount:   len(versions),
		})
	}
	return out, nil
}

// ListVersions returns the versions of a bundle ordered newest-first. A
// version whose descriptor fails to parse is still listed, with a sentinel
// description, so one bad version never hides the rest.
func (s *Store) ListVersions(name string) ([]VersionInfo, error) {
	ids, err := s.versionIDs(name)
	if err != nil {
		return nil, err
	}
	version.SortDescending(ids)

	out := make([]VersionInfo, 0, len(ids))
	for _, id := range ids {
		info := VersionInfo{Version: id}
		data, err := os.ReadFile(filepath.Join(s.VersionPath(name, id), DescriptorFile))
		if err == nil {
			if d, perr := ParseDescriptor(data); perr == nil {
				info.Tested = d.Metadata.Tested
				info.Description = d.Metadata.Description
				out = append(out, info)
				continue
			}
		}
		info.Description = "(invalid config)"
		out = append(out, info)
	}
	return out, nil
}

// VersionIDs returns the raw version identifiers of a bundle, unsorted.
// A missing bundle directory yields an empty list, not an error, so snapshot
// capture can mint the first version of a new bundle.
func (s *Store) VersionIDs(name string) ([]version.ID, error) {
	ids, err := s.versionIDs(name)
	if err != nil && errdefs.IsNotFound(err) {
		return nil, nil
	}
	return ids, err
}

func (s *Store) versionIDs(name string) ([]version.ID, error) {
	entries, err := os.ReadDir(s.BundlePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NewNotFound(fmt.Sprintf("bundle %q not found", name), err).
				WithResource(name)
		}
		return nil, fmt.Errorf("failed to read bundle %q: %w", name, err)
	}

	var ids []version.ID
	for _, e := range entries {
		if e.Name() == currentLink || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		// The current pointer is a symlink; real versions are directories.
		if e.Type()&os.ModeSymlink != 0 {
			continue
		}
		if !e.IsDir() {
			continue
		}
		if id, err := version.Parse(e.Name()); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// CurrentVersion resolves the bundle's current pointer. It returns the empty
// identifier if the pointer is missing or does not resolve to a version.
func (s *Store) CurrentVersion(name string) version.ID {
	target, err := os.Readlink(filepath.Join(s.BundlePath(name), currentLink))
	if err != nil {
		return ""
	}
	id, err := version.Parse(filepath.Base(target))
	if err != nil {
		return ""
	}
	return id
}

// SetCurrentVersion repoints the bundle's current pointer at the given
// version. The replacement is remove-then-create, not crash-atomic; the
// operation is idempotent and operator driven.
func (s *Store) SetCurrentVersion(name string, v version.ID) error {
	if _, err := os.Stat(s.VersionPath(name, v)); err != nil {
		return errdefs.NewNotFound(fmt.Sprintf("version %s of bundle %q not found", v, name), err).
			WithResource(fmt.Sprintf("%s/%s", name, v))
	}

	link := filepath.Join(s.BundlePath(name), currentLink)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove current pointer: %w", err)
	}
	if err := os.Symlink(string(v), link); err != nil {
		return fmt.Errorf("failed to set current pointer: %w", err)
	}
	s.log.WithBundle(name, string(v)).Info("current version updated")
	return nil
}

// ResolveVersionPath returns the directory of the requested version. With an
// empty version it prefers the current pointer and falls back to the newest
// version present.
func (s *Store) ResolveVersionPath(name string, v version.ID) (string, error) {
	if v != "" {
		p := s.VersionPath(name, v)
		if _, err := os.Stat(p); err != nil {
			return "", errdefs.NewNotFound(fmt.Sprintf("version %s of bundle %q not found", v, name), err).
				WithResource(fmt.Sprintf("%s/%s", name, v))
		}
		return p, nil
	}

	if cur := s.CurrentVersion(name); cur != "" {
		return s.VersionPath(name, cur), nil
	}

	ids, err := s.versionIDs(name)
	if err != nil {
		return "", err
	}
	latest := version.Latest(ids)
	if latest == "" {
		return "", errdefs.NewNotFound(fmt.Sprintf("bundle %q has no versions", name), nil).
			WithResource(name)
	}
	return s.VersionPath(name, latest), nil
}

// LoadDescriptor loads and validates the descriptor of one version directory.
// It checks the required files in priority order and names the first one that
// is missing or unparseable.
func (s *Store) LoadDescriptor(versionPath string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(versionPath, DescriptorFile))
	if err != nil {
		return nil, errdefs.NewValidation(fmt.Sprintf("missing required file %s", DescriptorFile), err).
			WithResource(versionPath)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, err
	}

	for _, required := range []string{LockFile, WorkflowFile} {
		if _, err := os.Stat(filepath.Join(versionPath, required)); err != nil {
			return nil, errdefs.NewValidation(fmt.Sprintf("missing required file %s", required), err).
				WithResource(versionPath)
		}
	}
	return d, nil
}

// DeleteVersion removes a version directory. Deleting the version the current
// pointer references is refused until the pointer is moved.
func (s *Store) DeleteVersion(name string, v version.ID) error {
	p := s.VersionPath(name, v)
	if _, err := os.Stat(p); err != nil {
		return errdefs.NewNotFound(fmt.Sprintf("version %s of bundle %q not found", v, name), err).
			WithResource(fmt.Sprintf("%s/%s", name, v))
	}
	if s.CurrentVersion(name) == v {
		return errdefs.NewConflict(
			fmt.Sprintf("cannot delete current version %s of bundle %q; set another version as current first", v, name),
			nil).WithResource(fmt.Sprintf("%s/%s", name, v))
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("failed to delete version %s of bundle %q: %w", v, name, err)
	}
	s.log.WithBundle(name, string(v)).Info("version deleted")
	return nil
}

// CreateVersionDir makes a fresh version directory for snapshot capture.
// It fails if the directory already exists.
func (s *Store) CreateVersionDir(name string, v version.ID) (string, error) {
	p := s.VersionPath(name, v)
	if _, err := os.Stat(p); err == nil {
		return "", errdefs.NewConflict(fmt.Sprintf("version %s of bundle %q already exists", v, name), nil).
			WithResource(fmt.Sprintf("%s/%s", name, v))
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("failed to create version directory: %w", err)
	}
	return p, nil
}

// ResolveSelection picks the bundle name and version for a deployment.
// Precedence: explicit argument, then environment default, then the current
// pointer for the version.
func (s *Store) ResolveSelection(explicitName, explicitVersion, envName, envVersion string) (string, version.ID, error) {
	name := explicitName
	if name == "" {
		name = envName
	}
	if name == "" {
		return "", "", errdefs.NewValidation(
			"no bundle specified: pass --bundle or set the default bundle in the environment", nil)
	}

	raw := explicitVersion
	if raw == "" {
		raw = envVersion
	}
	if raw != "" {
		v, err := version.Parse(raw)
		if err != nil {
			return "", "", err
		}
		return name, v, nil
	}

	cur := s.CurrentVersion(name)
	if cur == "" {
		return "", "", errdefs.NewNotFound(
			fmt.Sprintf("no current version set for bundle %q: pass --version or set one with bundle set-current", name),
			nil).WithResource(name)
	}
	return name, cur, nil
}
