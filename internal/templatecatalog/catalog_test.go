package templatecatalog

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

type fakeActiveCounter struct{ count int }

func (f fakeActiveCounter) ActiveCount(context.Context) (int, error) { return f.count, nil }

type fakeForcProbe struct{ available map[string]bool }

func (f fakeForcProbe) HasTemplateVersion(_ context.Context, templateName, version string) bool {
	return f.available[templateName+"@"+version]
}

func buildFixtureArchive(t *testing.T) []byte {
	t.Helper()
	files := map[string]string{
		"rstudio/rstudio_metadata.yml": `
name: rstudio
port: 8787
direction: ingress
protocol: tcp
needs_forc_support: true
forc_versions: ["1.2.0", "1.10.0", "1.3.0"]
securitygroup:
  name: rstudio-sg
  description: rstudio access
  ssh: false
`,
		"jupyterlab/jupyterlab_metadata.yml": `
name: jupyterlab
needs_forc_support: false
`,
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("writing tar content: %v", err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshPublishesSortedVersionsAfterForcProbe(t *testing.T) {
	archive := buildFixtureArchive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	forc := fakeForcProbe{available: map[string]bool{
		"rstudio@1.2.0":  true,
		"rstudio@1.10.0": true,
		// 1.3.0 deliberately absent: simulates a version Forc doesn't serve.
	}}

	cat := New(srv.URL, t.TempDir(), fakeActiveCounter{count: 0}, forc, testLogger())
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	versions := cat.AllowedVersions()["rstudio"]
	if len(versions) != 2 {
		t.Fatalf("versions = %v, want 2 entries (1.3.0 excluded)", versions)
	}
	if versions[0] != "1.10.0" || versions[1] != "1.2.0" {
		t.Errorf("versions = %v, want descending [1.10.0, 1.2.0]", versions)
	}
	if got := cat.GetTemplateVersionFor("rstudio"); got != "1.10.0" {
		t.Errorf("GetTemplateVersionFor(rstudio) = %q, want 1.10.0", got)
	}
	if got := cat.GetTemplateVersionFor("unknown-template"); got != "" {
		t.Errorf("GetTemplateVersionFor(unknown) = %q, want empty string", got)
	}
}

func TestRefreshSkipsForcProbeWhenNotNeeded(t *testing.T) {
	archive := buildFixtureArchive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	cat := New(srv.URL, t.TempDir(), fakeActiveCounter{count: 0}, fakeForcProbe{}, testLogger())
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	meta, ok := cat.Metadata("jupyterlab")
	if !ok {
		t.Fatal("expected jupyterlab metadata to be loaded")
	}
	if meta.NeedsForcSupport {
		t.Error("jupyterlab metadata should not need forc support")
	}
}

func TestExcludedDirectoriesAreNeverCandidates(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"packer", "optional", "cluster", "rstudio"} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	cat := New("", dir, fakeActiveCounter{}, fakeForcProbe{}, testLogger())
	candidates, err := cat.candidateTemplates()
	if err != nil {
		t.Fatalf("candidateTemplates: %v", err)
	}
	if len(candidates) != 1 || candidates[0] != "rstudio" {
		t.Errorf("candidates = %v, want only [rstudio]", candidates)
	}
}

func TestTickDefersWhilePipelinesActive(t *testing.T) {
	cat := New("http://unused.invalid", t.TempDir(), fakeActiveCounter{count: 1}, fakeForcProbe{}, testLogger())
	// tick should return promptly without attempting the HTTP download,
	// since the retry interval (15m) would otherwise make this test hang;
	// we only assert it doesn't panic or block beyond context cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cat.tick(ctx)
}
