// Package bundle defines the on-disk bundle store: immutable, versioned
// directories holding a descriptor, a dependency lock file, a workflow, and
// optional engine configuration.
package bundle

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bundleforge/bundleforge/pkg/errdefs"
)

// Descriptor is the parsed contents of a bundle.yaml file. It declares the
// engine pin, plugin pins, and model files that a deployment installs.
type Descriptor struct {
	Metadata Metadata     `yaml:"metadata" validate:"required"`
	Engine   *EngineSpec  `yaml:"engine,omitempty"`
	Plugins  []PluginSpec `yaml:"plugins,omitempty" validate:"dive"`
	Models   []ModelGroup `yaml:"models,omitempty" validate:"dive"`
}

// Metadata identifies the bundle version and records its provenance.
type Metadata struct {
	Name        string    `yaml:"name" validate:"required"`
	Version     string    `yaml:"version" validate:"required"`
	CreatedAt   time.Time `yaml:"created_at,omitempty"`
	Description string    `yaml:"description,omitempty"`
	Tested      bool      `yaml:"tested"`
}

// EngineSpec pins the engine to an exact repository commit. A nil EngineSpec
// means the deployment leaves the engine installation untouched. An empty
// Repo means the upstream default; the commit pin is always required.
type EngineSpec struct {
	Repo   string `yaml:"repo,omitempty" validate:"omitempty,url"`
	Commit string `yaml:"commit" validate:"required"`
}

// PluginSpec pins a plugin (a git repository installed under the engine's
// plugin directory) to an exact commit, with optional extra pip packages.
// The commit is mandatory for any plugin stored in a bundle.
type PluginSpec struct {
	Name   string   `yaml:"name" validate:"required"`
	Repo   string   `yaml:"repo" validate:"required,url"`
	Commit string   `yaml:"commit" validate:"required"`
	Pip    []string `yaml:"pip,omitempty"`
}

// ModelGroup lists model files destined for one subdirectory of the engine's
// model root, e.g. directory "checkpoints" or "unet" with an optional further
// subdirectory.
type ModelGroup struct {
	Name      string      `yaml:"name" validate:"required"`
	Directory string      `yaml:"directory" validate:"required"`
	Subdir    string      `yaml:"subdir,omitempty"`
	Files     []ModelFile `yaml:"files" validate:"required,min=1,dive"`
}

// ModelFile describes one downloadable model artifact.
type ModelFile struct {
	Name     string `yaml:"name,omitempty"`
	Filename string `yaml:"filename" validate:"required"`
	URL      string `yaml:"url" validate:"required,url"`
	SHA256   string `yaml:"sha256,omitempty"`
	Size     int64  `yaml:"size,omitempty"`
}

// PlacedModelFile pairs a model file with its group placement so callers can
// compute the final on-disk location.
type PlacedModelFile struct {
	ModelFile
	Directory string
	Subdir    string
}

// TargetDir returns the directory the file is installed into under the given
// models root.
func (p PlacedModelFile) TargetDir(modelsRoot string) string {
	if p.Subdir != "" {
		return filepath.Join(modelsRoot, p.Directory, p.Subdir)
	}
	return filepath.Join(modelsRoot, p.Directory)
}

// TargetPath returns the absolute path the file is installed at under the
// given models root.
func (p PlacedModelFile) TargetPath(modelsRoot string) string {
	return filepath.Join(p.TargetDir(modelsRoot), p.Filename)
}

var validate = validator.New()

// ParseDescriptor decodes and validates a bundle.yaml document.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, errdefs.NewValidation(fmt.Sprintf("malformed bundle descriptor: %v", err), nil)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks structural constraints that must hold for every stored
// bundle: mandatory metadata, exact commit pins, and safe file names.
func (d *Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return errdefs.NewValidation(fmt.Sprintf("invalid bundle descriptor: %v", err), nil)
	}

	for _, g := range d.Models {
		if err := checkRelativePath(g.Directory); err != nil {
			return errdefs.NewValidation(fmt.Sprintf("model directory %q: %v", g.Directory, err), nil)
		}
		if g.Subdir != "" {
			if err := checkRelativePath(g.Subdir); err != nil {
				return errdefs.NewValidation(fmt.Sprintf("model subdir %q: %v", g.Subdir, err), nil)
			}
		}
		for _, f := range g.Files {
			if err := checkFilename(f.Filename); err != nil {
				return errdefs.NewValidation(fmt.Sprintf("model filename %q: %v", f.Filename, err), nil)
			}
		}
	}
	for _, p := range d.Plugins {
		if err := checkFilename(p.Name); err != nil {
			return errdefs.NewValidation(fmt.Sprintf("plugin name %q: %v", p.Name, err), nil)
		}
	}
	return nil
}

// checkFilename rejects names containing path separators or traversal
// segments. Filenames and plugin names become single directory entries.
func checkFilename(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("contains path separator")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("traversal segment")
	}
	return nil
}

// checkRelativePath rejects paths that would escape their parent directory.
// Group directories may contain forward slashes ("unet/flux") but never
// traversal segments, backslashes, or absolute paths.
func checkRelativePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return fmt.Errorf("must be a relative path")
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("contains traversal segment")
		}
	}
	return nil
}

// Marshal serializes the descriptor to YAML.
func (d *Descriptor) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// HasEngine reports whether the bundle pins an engine commit.
func (d *Descriptor) HasEngine() bool {
	return d.Engine != nil
}

// AllModelFiles flattens all model groups into placed files.
func (d *Descriptor) AllModelFiles() []PlacedModelFile {
	var out []PlacedModelFile
	for _, g := range d.Models {
		for _, f := range g.Files {
			out = append(out, PlacedModelFile{ModelFile: f, Directory: g.Directory, Subdir: g.Subdir})
		}
	}
	return out
}

// ModelFileCount returns the number of model files across all groups.
func (d *Descriptor) ModelFileCount() int {
	n := 0
	for _, g := range d.Models {
		n += len(g.Files)
	}
	return n
}
