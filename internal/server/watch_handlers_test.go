package server

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string { return append([]string(nil), m.dirs...) }

func (m *mockWatchService) AddDirectory(path string) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

// newWatchTestEnv wires a server with the watch service enabled and a real
// config file on disk to persist into.
func newWatchTestEnv(t *testing.T, watch *mockWatchService) (*testEnv, string) {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	fullCfg := &config.Config{}
	fullCfg.Watch.Directories = watch.Directories()

	query := &fakeQuery{resp: &models.QueryResponse{Answer: "The answer.", Model: "test"}}
	ingestor := &fakeIngestor{jobs: ingest.NewManager(db, zap.NewNop())}
	docs := newFakeDocs()
	srv := NewServer(query, ingestor, docs, db, &config.ServerConfig{Host: "127.0.0.1", Port: 8080}, zap.NewNop(), watch, configPath, fullCfg)
	return &testEnv{router: srv.Router(), query: query, ingestor: ingestor, docs: docs, db: db}, configPath
}

func persistedWatchDirs(t *testing.T, configPath string) []string {
	t.Helper()
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("persisted config does not parse: %v", err)
	}
	return cfg.Watch.Directories
}

func TestHandleWatchDirectories_NotEnabled(t *testing.T) {
	env := newTestEnv(t)
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		w := env.do(t, method, "/api/v1/watch/directories", nil)
		if w.Code != http.StatusNotImplemented {
			t.Errorf("%s status = %d, want 501", method, w.Code)
		}
	}
}

func TestHandleListWatchDirectories(t *testing.T) {
	env, _ := newWatchTestEnv(t, &mockWatchService{dirs: []string{"/data/drop"}})

	w := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Directories []string `json:"directories"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Directories) != 1 || resp.Directories[0] != "/data/drop" {
		t.Errorf("directories = %v, want [/data/drop]", resp.Directories)
	}
}

func TestHandleAddWatchDirectory(t *testing.T) {
	watch := &mockWatchService{}
	env, configPath := newWatchTestEnv(t, watch)
	dir := t.TempDir()

	w := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["status"] != "added" {
		t.Errorf("status field = %q, want added", resp["status"])
	}
	if len(watch.dirs) != 1 || watch.dirs[0] != dir {
		t.Errorf("watch service dirs = %v, want [%s]", watch.dirs, dir)
	}

	dirs := persistedWatchDirs(t, configPath)
	if len(dirs) != 1 || dirs[0] != dir {
		t.Errorf("persisted directories = %v, want [%s]", dirs, dir)
	}
}

func TestHandleAddWatchDirectory_NotFound(t *testing.T) {
	env, _ := newWatchTestEnv(t, &mockWatchService{})
	w := env.do(t, http.MethodPost, "/api/v1/watch/directories",
		map[string]string{"path": filepath.Join(t.TempDir(), "missing")})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleAddWatchDirectory_NotADirectory(t *testing.T) {
	env, _ := newWatchTestEnv(t, &mockWatchService{})
	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	w := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": file})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleAddWatchDirectory_MissingPath(t *testing.T) {
	env, _ := newWatchTestEnv(t, &mockWatchService{})
	w := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleRemoveWatchDirectory(t *testing.T) {
	dir := t.TempDir()
	watch := &mockWatchService{dirs: []string{dir}}
	env, configPath := newWatchTestEnv(t, watch)

	w := env.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(dir), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["status"] != "removed" {
		t.Errorf("status field = %q, want removed", resp["status"])
	}
	if len(watch.dirs) != 0 {
		t.Errorf("watch service dirs = %v, want empty", watch.dirs)
	}
	if dirs := persistedWatchDirs(t, configPath); len(dirs) != 0 {
		t.Errorf("persisted directories = %v, want empty", dirs)
	}
}

func TestHandleRemoveWatchDirectory_PathInBody(t *testing.T) {
	dir := t.TempDir()
	watch := &mockWatchService{dirs: []string{dir}}
	env, _ := newWatchTestEnv(t, watch)

	w := env.do(t, http.MethodDelete, "/api/v1/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(watch.dirs) != 0 {
		t.Errorf("watch service dirs = %v, want empty", watch.dirs)
	}
}

func TestHandleRemoveWatchDirectory_MissingPath(t *testing.T) {
	env, _ := newWatchTestEnv(t, &mockWatchService{dirs: []string{"/data/drop"}})
	w := env.do(t, http.MethodDelete, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
