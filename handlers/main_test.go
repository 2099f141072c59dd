package handlers

import (
	"anonfeedback/config"
	"anonfeedback/database"
	"anonfeedback/feedback"
	"anonfeedback/models"
	"anonfeedback/sessions"
	"anonfeedback/utils"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	testAPIKey = "test-key"
	testGuild  = "1000"
	testForum  = "50"
	testAdmin  = "999"
	testThread = "200"
	testOwner  = "300"
)

// stubPlatform records what the engine renders and sends.
type stubPlatform struct {
	mu      sync.Mutex
	nextID  int64
	notices map[int64][]string
}

func (p *stubPlatform) RenderMessage(_ context.Context, _ int64, _ models.Message) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	return p.nextID, nil
}

func (p *stubPlatform) DeleteMessage(_ context.Context, _, _ int64) error { return nil }

func (p *stubPlatform) NotifyUser(_ context.Context, userID int64, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices[userID] = append(p.notices[userID], text)
	return nil
}

func (p *stubPlatform) ResolveThreadOwner(_ context.Context, threadID int64) (int64, error) {
	if threadID == 200 {
		return 300, nil
	}
	return 0, models.ErrThreadNotFound
}

// MockApplication holds dependencies for handler tests.
type MockApplication struct {
	db          *database.DatabaseService
	feedback    *feedback.Service
	rateLimiter *models.RateLimiter
	uploadDir   string
	backupDir   string
	apiKeyHash  string
	logger      *slog.Logger
}

func (a *MockApplication) Feedback() *feedback.Service      { return a.feedback }
func (a *MockApplication) DB() *database.DatabaseService    { return a.db }
func (a *MockApplication) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *MockApplication) Logger() *slog.Logger             { return a.logger }
func (a *MockApplication) UploadDir() string                { return a.uploadDir }
func (a *MockApplication) BackupDir() string                { return a.backupDir }
func (a *MockApplication) APIKeyHash() string               { return a.apiKeyHash }

// setupTestApp creates a full application stack with a test database for integration testing.
func setupTestApp(t *testing.T) *MockApplication {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	dir := t.TempDir()
	dbService, err := database.InitDB(filepath.Join(dir, "test.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"), logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { dbService.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash API key: %v", err)
	}

	uploadDir := filepath.Join(dir, "uploads")
	svc := feedback.NewService(feedback.ServiceConfig{
		Logger:   logger,
		DB:       dbService,
		Platform: &stubPlatform{nextID: 7000, notices: make(map[int64][]string)},
		Config: config.StaticProvider{
			Admins:        map[int64]bool{999: true},
			ForumChannels: map[int64]bool{50: true},
		},
		Sessions: sessions.NewMemStore(100, time.Hour),
		Storage:  &utils.LocalStorage{UploadDir: uploadDir},
	})

	return &MockApplication{
		db:          dbService,
		feedback:    svc,
		rateLimiter: models.NewRateLimiter(time.Hour, 50, 0, time.Hour),
		uploadDir:   uploadDir,
		backupDir:   filepath.Join(dir, "backups"),
		apiKeyHash:  string(hash),
		logger:      logger,
	}
}

func setupServer(t *testing.T, app *MockApplication) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(SetupRouter(app))
	t.Cleanup(server.Close)
	return server
}

// postJSON sends an authenticated JSON request and decodes the JSON reply, if any.
func postJSON(t *testing.T, server *httptest.Server, path string, payload any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	req, _ := http.NewRequest("POST", server.URL+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response for %s (status %d): %v", path, resp.StatusCode, err)
		}
	}
	return resp.StatusCode, result
}

func submitBody(userID, threadID, body string) map[string]string {
	return map[string]string{
		"user_id":   userID,
		"guild_id":  testGuild,
		"thread_id": threadID,
		"parent_id": testForum,
		"body":      body,
	}
}
