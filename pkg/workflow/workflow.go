// Package workflow installs workflow documents into the engine and extracts
// the node-type names a workflow declares, for post-deployment verification.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bundleforge/bundleforge/pkg/errdefs"
	"github.com/bundleforge/bundleforge/pkg/telemetry"
)

// Installer copies workflow documents into the engine's user workflow
// directory.
type Installer struct {
	enginePath string
	log        *telemetry.Logger
}

// NewInstaller creates an installer for the given engine installation.
func NewInstaller(enginePath string, log *telemetry.Logger) *Installer {
	return &Installer{
		enginePath: enginePath,
		log:        log.NewComponentLogger("workflow"),
	}
}

// dir returns the engine's user workflow directory.
func (i *Installer) dir() string {
	return filepath.Join(i.enginePath, "user", "default", "workflows")
}

// Install copies the workflow document at srcPath into the engine under a
// name derived from the bundle. It returns the installed location. The
// document must be valid JSON; a workflow the engine cannot load is rejected
// here rather than discovered at runtime.
func (i *Installer) Install(srcPath, bundleName string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", errdefs.NewValidation(fmt.Sprintf("workflow document %s not readable", srcPath), err)
	}
	if !json.Valid(data) {
		return "", errdefs.NewValidation(fmt.Sprintf("workflow document %s is not valid JSON", srcPath), nil)
	}

	if err := os.MkdirAll(i.dir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create workflow directory: %w", err)
	}

	target := filepath.Join(i.dir(), bundleName+"_workflow.json")
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to install workflow: %w", err)
	}

	i.log.WithField("target", target).Info("workflow installed")
	return target, nil
}

// ExtractNodeTypes returns the sorted set of node-type names a workflow
// document declares. Two document shapes are recognized and their results
// unioned: a "nodes" array whose elements carry a "type" string (the editor
// export format) and numeric top-level keys whose values carry a
// "class_type" string (the API prompt format). Both passes run
// unconditionally; a document may use either or both shapes.
func ExtractNodeTypes(data []byte) ([]string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errdefs.NewValidation("workflow document is not a JSON object", err)
	}

	set := make(map[string]struct{})

	if raw, ok := doc["nodes"]; ok {
		var nodes []struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &nodes); err == nil {
			for _, n := range nodes {
				if n.Type != "" {
					set[n.Type] = struct{}{}
				}
			}
		}
	}

	for key, raw := range doc {
		if !isNumeric(key) {
			continue
		}
		var node struct {
			ClassType string `json:"class_type"`
		}
		if err := json.Unmarshal(raw, &node); err == nil && node.ClassType != "" {
			set[node.ClassType] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
