// Package templatecatalog implements the Template Catalog (spec.md §4.7):
// periodic refresh of a bundle of recipe templates from a remote archive,
// per-template metadata validation, and an atomically-published "allowed
// templates" view keyed by templateName → sortedDescVersions.
package templatecatalog

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// excludedDirs are directory entries that are never treated as templates,
// per spec.md §4.7 step 3.
var excludedDirs = map[string]bool{
	"packer": true, "optional": true, ".github": true, "cluster": true, "conda": true,
}

const (
	refreshBlockRetryInterval = 15 * time.Minute
	refreshBlockMaxAttempts   = 5
)

// SecurityGroupMeta is the embedded securityGroup{name,description,ssh} of
// TemplateMetadata.
type SecurityGroupMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	SSH         bool   `yaml:"ssh"`
}

// Metadata is TemplateMetadata (spec.md §3), loaded from each template's
// {template}_metadata.yml.
type Metadata struct {
	Name                  string             `yaml:"name"`
	Port                  int                `yaml:"port"`
	Direction             string             `yaml:"direction"`
	Protocol              string             `yaml:"protocol"`
	ForcVersions          []string           `yaml:"forc_versions"`
	IncompatibleVersions  []string           `yaml:"incompatible_versions"`
	NeedsForcSupport      bool               `yaml:"needs_forc_support"`
	MinRAM                int                `yaml:"min_ram"`
	MinCores              int                `yaml:"min_cores"`
	SecurityGroup         SecurityGroupMeta  `yaml:"securitygroup"`
}

// ActivePipelineCounter reports how many playbook pipelines are active, so
// refresh can defer while any are; *playbook.Supervisor's ActiveCount says
// which pipelines it counts.
type ActivePipelineCounter interface {
	ActiveCount(ctx context.Context) (int, error)
}

// ForcProbe checks whether the Forc catalog serves a given template/version
// pair with a 200. Implemented by internal/forc.
type ForcProbe interface {
	HasTemplateVersion(ctx context.Context, templateName, version string) bool
}

// Catalog owns the AllowedVersions snapshot and the template metadata
// loaded on the most recent successful refresh.
type Catalog struct {
	archiveURL   string
	playsDir     string
	activePipes  ActivePipelineCounter
	forc         ForcProbe
	logger       *slog.Logger

	locked atomic.Bool

	mu       sync.RWMutex
	allowed  map[string][]string // templateName -> sorted-desc version strings
	metadata map[string]Metadata
}

// New builds a Catalog. playsDir is the stable directory templates are
// extracted into on each refresh.
func New(archiveURL, playsDir string, activePipes ActivePipelineCounter, forc ForcProbe, logger *slog.Logger) *Catalog {
	return &Catalog{
		archiveURL:  archiveURL,
		playsDir:    playsDir,
		activePipes: activePipes,
		forc:        forc,
		logger:      logger,
		allowed:     make(map[string][]string),
		metadata:    make(map[string]Metadata),
	}
}

// Locked implements playbook.CatalogLockChecker.
func (c *Catalog) Locked(_ context.Context) bool {
	return c.locked.Load()
}

// GetTemplateVersionFor returns AllowedVersions[t][0], the newest acceptable
// version, or "" if t isn't in the map.
func (c *Catalog) GetTemplateVersionFor(templateName string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions := c.allowed[templateName]
	if len(versions) == 0 {
		return ""
	}
	return versions[0]
}

// AllowedVersions returns a copy of the current published snapshot.
func (c *Catalog) AllowedVersions() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]string, len(c.allowed))
	for k, v := range c.allowed {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Metadata returns the metadata for a loaded template, or false if unknown.
func (c *Catalog) Metadata(templateName string) (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.metadata[templateName]
	return m, ok
}

// Run starts the ticker-driven refresh loop (default every 12h per
// spec.md §4.7) and blocks until ctx is cancelled. Intended to be launched
// in its own goroutine and cancelled on shutdown.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Catalog) tick(ctx context.Context) {
	for attempt := 1; attempt <= refreshBlockMaxAttempts; attempt++ {
		active, err := c.activePipes.ActiveCount(ctx)
		if err != nil {
			c.logger.Error("template refresh: checking active pipelines", "error", err)
			return
		}
		if active == 0 {
			break
		}
		if attempt == refreshBlockMaxAttempts {
			c.logger.Error("template refresh: deferred for 5 attempts, giving up this tick", "active_pipelines", active)
			return
		}
		c.logger.Info("template refresh: active pipelines in flight, deferring", "attempt", attempt, "active_pipelines", active)
		select {
		case <-ctx.Done():
			return
		case <-time.After(refreshBlockRetryInterval):
		}
	}

	if err := c.Refresh(ctx); err != nil {
		c.logger.Error("template refresh failed", "error", err)
	}
}

// Refresh runs the five-step refresh cycle once, unconditionally (callers
// wanting the active-pipeline guard should go through Run/tick).
func (c *Catalog) Refresh(ctx context.Context) error {
	c.locked.Store(true)
	defer c.locked.Store(false)

	archivePath, err := c.downloadArchive(ctx)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "downloading playbooks archive")
	}
	defer os.Remove(archivePath)

	if err := extractTarGz(archivePath, c.playsDir); err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "extracting playbooks archive")
	}

	candidates, err := c.candidateTemplates()
	if err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "enumerating template candidates")
	}

	newAllowed := make(map[string][]string, len(candidates))
	newMetadata := make(map[string]Metadata, len(candidates))

	for _, name := range candidates {
		meta, err := c.loadMetadata(name)
		if err != nil {
			c.logger.Warn("template refresh: skipping candidate with unparsable metadata", "template", name, "error", err)
			continue
		}
		versions := meta.ForcVersions
		if meta.NeedsForcSupport && c.forc != nil {
			versions = c.probeVersions(ctx, name, meta.ForcVersions)
		}
		sorted := sortVersionsDescending(versions)
		newAllowed[name] = sorted
		newMetadata[name] = meta
	}

	c.mu.Lock()
	c.allowed = newAllowed
	c.metadata = newMetadata
	c.mu.Unlock()

	return c.installGalaxyRequirements(ctx)
}

func (c *Catalog) probeVersions(ctx context.Context, templateName string, versions []string) []string {
	kept := make([]string, 0, len(versions))
	for _, v := range versions {
		if c.forc.HasTemplateVersion(ctx, templateName, v) {
			kept = append(kept, v)
		}
	}
	return kept
}

func sortVersionsDescending(raw []string) []string {
	parsed := make([]*semver.Version, 0, len(raw))
	for _, v := range raw {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		parsed = append(parsed, sv)
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].GreaterThan(parsed[j]) })
	out := make([]string, len(parsed))
	for i, sv := range parsed {
		out[i] = sv.Original()
	}
	return out
}

func (c *Catalog) candidateTemplates() ([]string, error) {
	entries, err := os.ReadDir(c.playsDir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || excludedDirs[e.Name()] {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

func (c *Catalog) loadMetadata(templateName string) (Metadata, error) {
	path := filepath.Join(c.playsDir, templateName, templateName+"_metadata.yml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

func (c *Catalog) downloadArchive(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.archiveURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading playbooks archive: unexpected status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp("", "simplevm-playbooks-*.tar.gz")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // archive source is operator-configured, not user input
				out.Close()
				return err
			}
			out.Close()
		}
	}
	return nil
}

// installGalaxyRequirements runs the one-shot ansible-galaxy install
// referenced in the packer subdirectory (spec.md §4.7 step 5).
func (c *Catalog) installGalaxyRequirements(ctx context.Context) error {
	reqFile := filepath.Join(c.playsDir, "packer", "requirements.yml")
	if _, err := os.Stat(reqFile); err != nil {
		return nil // no galaxy requirements shipped with this archive
	}
	cmd := exec.CommandContext(ctx, "ansible-galaxy", "install", "-r", reqFile)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error("installing galaxy requirements", "error", err, "output", string(out))
		return apperr.Wrap(err, apperr.KindDefault, "installing ansible galaxy requirements")
	}
	return nil
}
