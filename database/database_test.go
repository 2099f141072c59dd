// anonfeedback/database/database_test.go
package database

import (
	"anonfeedback/models"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

// setupTestDB creates a new SQLite database in a temp dir for testing.
func setupTestDB(t *testing.T) *DatabaseService {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dbPath := filepath.Join(t.TempDir(), "test.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	ds, err := InitDB(dbPath, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedIdentity(t *testing.T, ds *DatabaseService, pseudonym string, userID, communityID int64) {
	t.Helper()
	if _, err := ds.EnsureIdentity(context.Background(), pseudonym, userID, communityID, testNow); err != nil {
		t.Fatalf("Failed to seed identity %s: %v", pseudonym, err)
	}
}

func seedFeedback(t *testing.T, ds *DatabaseService, pseudonym string, communityID, threadID int64, at time.Time) *models.FeedbackEntry {
	t.Helper()
	e := &models.FeedbackEntry{
		Pseudonym:      pseudonym,
		CommunityID:    communityID,
		TargetThreadID: threadID,
		TargetLink:     "https://discord.com/channels/1/2/3",
		Kind:           models.KindText,
		Body:           "hello",
		CreatedAt:      at,
	}
	if err := ds.CreateFeedback(context.Background(), e, RateWindow{}); err != nil {
		t.Fatalf("Failed to seed feedback: %v", err)
	}
	return e
}

func TestMigrations(t *testing.T) {
	ds := setupTestDB(t)

	rows, err := ds.DB.Query("SELECT owner_id FROM warning_events LIMIT 1")
	if err != nil {
		t.Fatalf("Could not query owner_id column added by migration 1: %v", err)
	}
	rows.Close()

	var version int
	if err := ds.DB.QueryRow("SELECT version FROM schema_migrations WHERE version = 1").Scan(&version); err != nil {
		t.Fatalf("Migration version 1 was not recorded in schema_migrations: %v", err)
	}
}

func TestInitDBReopen(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	dbPath := filepath.Join(t.TempDir(), "reopen.db?_foreign_keys=on")

	first, err := InitDB(dbPath, logger)
	if err != nil {
		t.Fatalf("First InitDB failed: %v", err)
	}
	first.Close()

	second, err := InitDB(dbPath, logger)
	if err != nil {
		t.Fatalf("Re-running InitDB on an existing database failed: %v", err)
	}
	second.Close()
}

func TestEnsureIdentityKeepsState(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "abc", 1, 10)

	if _, err := ds.SetIdentityBanned(ctx, "abc", true, nil); err != nil {
		t.Fatalf("SetIdentityBanned failed: %v", err)
	}

	id, err := ds.EnsureIdentity(ctx, "abc", 1, 10, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("EnsureIdentity failed: %v", err)
	}
	if !id.Banned {
		t.Error("Expected re-registering an identity to keep its ban flag")
	}
	if !id.CreatedAt.Equal(testNow) {
		t.Errorf("Expected created_at to stay %v, got %v", testNow, id.CreatedAt)
	}
}

func TestGetIdentityNotFound(t *testing.T) {
	ds := setupTestDB(t)
	_, err := ds.GetIdentity(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		t.Error("Expected ErrNotFound to wrap sql.ErrNoRows")
	}
}

func TestNextDisplayNumberConcurrent(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()

	// Move the counter off its initial value first.
	for i := 0; i < 3; i++ {
		if _, err := ds.NextDisplayNumber(ctx, 7); err != nil {
			t.Fatalf("NextDisplayNumber failed: %v", err)
		}
	}

	const n = 40
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := ds.NextDisplayNumber(ctx, 7)
			if err != nil {
				t.Errorf("NextDisplayNumber failed: %v", err)
				return
			}
			mu.Lock()
			numbers = append(numbers, num)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	if len(numbers) != n {
		t.Fatalf("Expected %d numbers, got %d", n, len(numbers))
	}
	for i, num := range numbers {
		if want := int64(4 + i); num != want {
			t.Fatalf("Expected contiguous numbers starting at 4, position %d has %d", i, num)
		}
	}

	next, err := ds.PeekDisplayNumber(ctx, 7)
	if err != nil {
		t.Fatalf("PeekDisplayNumber failed: %v", err)
	}
	if next != 4+n {
		t.Errorf("Expected next number %d, got %d", 4+n, next)
	}
}

func TestCreateFeedbackNumbersPerCommunity(t *testing.T) {
	ds := setupTestDB(t)
	seedIdentity(t, ds, "p1", 1, 100)
	seedIdentity(t, ds, "p2", 1, 200)

	testCases := []struct {
		name        string
		pseudonym   string
		communityID int64
		expected    int64
	}{
		{"First in community 100", "p1", 100, 1},
		{"Second in community 100", "p1", 100, 2},
		{"First in community 200", "p2", 200, 1},
		{"Third in community 100", "p1", 100, 3},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := seedFeedback(t, ds, tc.pseudonym, tc.communityID, 5, testNow)
			if e.DisplayNumber != tc.expected {
				t.Errorf("Expected display number %d, got %d", tc.expected, e.DisplayNumber)
			}
			if e.ID == 0 {
				t.Error("Expected the entry id to be filled in")
			}
		})
	}
}

func TestDeletedNumbersAreNotReused(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)

	first := seedFeedback(t, ds, "p1", 100, 5, testNow)
	if _, err := ds.RetractFeedback(ctx, first.ID); err != nil {
		t.Fatalf("RetractFeedback failed: %v", err)
	}
	second := seedFeedback(t, ds, "p1", 100, 5, testNow)
	if second.DisplayNumber != first.DisplayNumber+1 {
		t.Errorf("Expected number %d after deletion, got %d", first.DisplayNumber+1, second.DisplayNumber)
	}
}

func TestCreateFeedbackWithNumber(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)

	reserved, err := ds.NextDisplayNumber(ctx, 100)
	if err != nil {
		t.Fatalf("NextDisplayNumber failed: %v", err)
	}
	// A later plain submission must not collide with the reservation.
	plain := seedFeedback(t, ds, "p1", 100, 5, testNow)

	e := &models.FeedbackEntry{
		DisplayNumber:  reserved,
		Pseudonym:      "p1",
		CommunityID:    100,
		TargetThreadID: 5,
		TargetLink:     "https://discord.com/channels/100/5/5",
		Kind:           models.KindImage,
		FileRef:        sql.NullString{String: "/uploads/x.png", Valid: true},
		CreatedAt:      testNow,
	}
	if err := ds.CreateFeedbackWithNumber(ctx, e, RateWindow{}); err != nil {
		t.Fatalf("CreateFeedbackWithNumber failed: %v", err)
	}
	if reserved != 1 || plain.DisplayNumber != 2 {
		t.Errorf("Expected reserved=1 and plain=2, got %d and %d", reserved, plain.DisplayNumber)
	}

	got, err := ds.GetFeedbackByNumber(ctx, 100, reserved)
	if err != nil {
		t.Fatalf("GetFeedbackByNumber failed: %v", err)
	}
	if got.Kind != models.KindImage || got.FileRef.String != "/uploads/x.png" {
		t.Errorf("Unexpected stored entry: %+v", got)
	}
}

func TestSetMessageIDBackfillOnce(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)
	e := seedFeedback(t, ds, "p1", 100, 5, testNow)

	if err := ds.SetMessageID(ctx, e.ID, 555); err != nil {
		t.Fatalf("SetMessageID failed: %v", err)
	}
	if err := ds.SetMessageID(ctx, e.ID, 666); err != nil {
		t.Fatalf("Second SetMessageID failed: %v", err)
	}
	got, err := ds.GetFeedbackByMessageID(ctx, 555)
	if err != nil {
		t.Fatalf("GetFeedbackByMessageID failed: %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("Expected entry %d, got %d", e.ID, got.ID)
	}
	if _, err := ds.GetFeedbackByMessageID(ctx, 666); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected the message id not to be overwritten, lookup returned %v", err)
	}
}

func TestCountRecentFeedback(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)

	seedFeedback(t, ds, "p1", 100, 5, testNow.Add(-25*time.Hour)) // outside window
	seedFeedback(t, ds, "p1", 100, 5, testNow.Add(-23*time.Hour))
	seedFeedback(t, ds, "p1", 100, 6, testNow.Add(-time.Hour)) // other thread
	deleted := seedFeedback(t, ds, "p1", 100, 5, testNow.Add(-time.Minute))
	seedFeedback(t, ds, "p1", 100, 5, testNow)
	if _, err := ds.RetractFeedback(ctx, deleted.ID); err != nil {
		t.Fatalf("RetractFeedback failed: %v", err)
	}

	count, err := ds.CountRecentFeedback(ctx, "p1", 5, testNow.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("CountRecentFeedback failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 live entries in the window, got %d", count)
	}
}

func TestCreateFeedbackRateWindow(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)
	window := RateWindow{Since: testNow.Add(-24 * time.Hour), Max: 5}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := &models.FeedbackEntry{
				Pseudonym: "p1", CommunityID: 100, TargetThreadID: 5,
				TargetLink: "https://discord.com/channels/100/5/5", Kind: models.KindText, Body: "hi", CreatedAt: testNow,
			}
			err := ds.CreateFeedback(ctx, e, window)
			if err != nil && !errors.Is(err, ErrRateLimited) {
				t.Errorf("CreateFeedback failed: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != window.Max {
		t.Errorf("Expected %d entries to pass the window, got %d", window.Max, created)
	}

	reserved, err := ds.NextDisplayNumber(ctx, 100)
	if err != nil {
		t.Fatalf("NextDisplayNumber failed: %v", err)
	}
	e := &models.FeedbackEntry{
		DisplayNumber: reserved, Pseudonym: "p1", CommunityID: 100, TargetThreadID: 5,
		TargetLink: "https://discord.com/channels/100/5/5", Kind: models.KindImage, CreatedAt: testNow,
	}
	if err := ds.CreateFeedbackWithNumber(ctx, e, window); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected reserved insert to hit the window, got %v", err)
	}
}

func TestIncrementAndDecrementWarning(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)

	ev := func() *models.WarningEvent {
		return &models.WarningEvent{
			Pseudonym:   "p1",
			CommunityID: 100,
			Kind:        models.WarningAuthorAction,
			OwnerID:     sql.NullInt64{Int64: 9, Valid: true},
			Reason:      "spam",
			CreatedAt:   testNow,
		}
	}
	for want := 1; want <= 4; want++ {
		count, err := ds.IncrementWarning(ctx, ev())
		if err != nil {
			t.Fatalf("IncrementWarning failed: %v", err)
		}
		if count != want {
			t.Fatalf("Expected count %d, got %d", want, count)
		}
	}

	testCases := []struct {
		name     string
		amount   int
		old, new int
	}{
		{"Partial", 1, 4, 3},
		{"Floor at zero", 10, 3, 0},
		{"Already zero", 2, 0, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			oldCount, newCount, err := ds.DecrementWarning(ctx, "p1", 9, tc.amount, testNow)
			if err != nil {
				t.Fatalf("DecrementWarning failed: %v", err)
			}
			if oldCount != tc.old || newCount != tc.new {
				t.Errorf("Expected (%d, %d), got (%d, %d)", tc.old, tc.new, oldCount, newCount)
			}
		})
	}

	id, err := ds.GetIdentity(ctx, "p1")
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if id.WarningCount != 4 {
		t.Errorf("Expected lifetime warning count 4, got %d", id.WarningCount)
	}
	events, err := ds.ListWarningEvents(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("ListWarningEvents failed: %v", err)
	}
	if len(events) != 4 || events[0].OwnerID.Int64 != 9 {
		t.Errorf("Expected 4 events against owner 9, got %+v", events)
	}
}

func TestDecrementWarningMissingRow(t *testing.T) {
	ds := setupTestDB(t)
	oldCount, newCount, err := ds.DecrementWarning(context.Background(), "nobody", 1, 1, testNow)
	if err != nil {
		t.Fatalf("DecrementWarning failed: %v", err)
	}
	if oldCount != 0 || newCount != 0 {
		t.Errorf("Expected (0, 0) for a missing relationship, got (%d, %d)", oldCount, newCount)
	}
}

func TestRemoveAndWarnOnce(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)
	e := seedFeedback(t, ds, "p1", 100, 5, testNow)

	ev := &models.WarningEvent{
		Pseudonym:   "p1",
		CommunityID: 100,
		Kind:        models.WarningAdminAction,
		OwnerID:     sql.NullInt64{Int64: 9, Valid: true},
		FeedbackID:  sql.NullInt64{Int64: e.ID, Valid: true},
		CreatedAt:   testNow,
	}
	count, removed, err := ds.RemoveAndWarn(ctx, e.ID, ev)
	if err != nil || !removed || count != 1 {
		t.Fatalf("Expected first removal to escalate to 1, got count=%d removed=%v err=%v", count, removed, err)
	}
	count, removed, err = ds.RemoveAndWarn(ctx, e.ID, ev)
	if err != nil || removed || count != 0 {
		t.Fatalf("Expected second removal to be a no-op, got count=%d removed=%v err=%v", count, removed, err)
	}
	if c, _ := ds.GetWarningCount(ctx, "p1", 9); c != 1 {
		t.Errorf("Expected relationship count 1, got %d", c)
	}
}

func TestRecordDownvoteExactlyOnce(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)
	e := seedFeedback(t, ds, "p1", 100, 5, testNow)
	if err := ds.SetMessageID(ctx, e.ID, 777); err != nil {
		t.Fatalf("SetMessageID failed: %v", err)
	}

	const threshold = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		removals int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, count, err := ds.RecordDownvote(ctx, 777)
			if errors.Is(err, ErrNotFound) {
				return
			}
			if err != nil {
				t.Errorf("RecordDownvote failed: %v", err)
				return
			}
			if count < threshold {
				return
			}
			ev := &models.WarningEvent{
				Pseudonym:   entry.Pseudonym,
				CommunityID: entry.CommunityID,
				Kind:        models.WarningCommunityDownvote,
				OwnerID:     sql.NullInt64{Int64: 9, Valid: true},
				FeedbackID:  sql.NullInt64{Int64: entry.ID, Valid: true},
				CreatedAt:   testNow,
			}
			_, removed, err := ds.RemoveAndWarn(ctx, entry.ID, ev)
			if err != nil {
				t.Errorf("RemoveAndWarn failed: %v", err)
				return
			}
			if removed {
				mu.Lock()
				removals++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if removals != 1 {
		t.Errorf("Expected exactly one removal, got %d", removals)
	}
	if c, _ := ds.GetWarningCount(ctx, "p1", 9); c != 1 {
		t.Errorf("Expected relationship count 1, got %d", c)
	}
	got, err := ds.GetFeedbackByNumber(ctx, 100, e.DisplayNumber)
	if err != nil {
		t.Fatalf("GetFeedbackByNumber failed: %v", err)
	}
	if !got.Deleted {
		t.Error("Expected the entry to end deleted")
	}
	tally, err := ds.GetDownvoteTally(ctx, 777)
	if err != nil {
		t.Fatalf("GetDownvoteTally failed: %v", err)
	}
	if tally.Count < threshold {
		t.Errorf("Expected the tally to reach %d, got %d", threshold, tally.Count)
	}
}

func TestSetIdentityBanned(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)

	ev := &models.WarningEvent{Pseudonym: "p1", CommunityID: 100, Kind: models.WarningAdminAction, CreatedAt: testNow}

	testCases := []struct {
		name    string
		banned  bool
		changed bool
	}{
		{"Ban", true, true},
		{"Ban again", true, false},
		{"Unban", false, true},
		{"Unban again", false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			changed, err := ds.SetIdentityBanned(ctx, "p1", tc.banned, ev)
			if err != nil {
				t.Fatalf("SetIdentityBanned failed: %v", err)
			}
			if changed != tc.changed {
				t.Errorf("Expected changed=%v, got %v", tc.changed, changed)
			}
		})
	}

	if _, err := ds.SetIdentityBanned(ctx, "missing", true, ev); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown pseudonym, got %v", err)
	}
	id, _ := ds.GetIdentity(ctx, "p1")
	if id.WarningCount != 1 {
		t.Errorf("Expected only the effective ban to count, got %d", id.WarningCount)
	}
}

func TestCountFeedbackTotals(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedIdentity(t, ds, "p1", 1, 100)
	seedFeedback(t, ds, "p1", 100, 5, testNow)
	e := seedFeedback(t, ds, "p1", 100, 6, testNow)
	ds.RetractFeedback(ctx, e.ID)

	posted, deleted, err := ds.CountFeedbackTotals(ctx, "p1")
	if err != nil {
		t.Fatalf("CountFeedbackTotals failed: %v", err)
	}
	if posted != 2 || deleted != 1 {
		t.Errorf("Expected (2, 1), got (%d, %d)", posted, deleted)
	}

	nums, err := ds.ListThreadNumbers(ctx, "p1", 5)
	if err != nil || len(nums) != 1 || nums[0] != 1 {
		t.Errorf("Expected [1] for thread 5, got %v (err %v)", nums, err)
	}
}

func TestBackupDatabase(t *testing.T) {
	ds := setupTestDB(t)
	seedIdentity(t, ds, "p1", 1, 100)

	backupPath, err := ds.BackupDatabase(t.TempDir())
	if err != nil {
		t.Fatalf("BackupDatabase failed: %v", err)
	}
	info, err := os.Stat(backupPath)
	if err != nil {
		t.Fatalf("Backup file was not created at %s: %v", backupPath, err)
	}
	if info.Size() == 0 {
		t.Error("Backup file was created but is empty.")
	}

	destDB, err := sql.Open("sqlite3", backupPath)
	if err != nil {
		t.Fatalf("Could not open the backup as a database: %v", err)
	}
	defer destDB.Close()

	var pseudonym string
	if err := destDB.QueryRow("SELECT pseudonym FROM identities").Scan(&pseudonym); err != nil {
		t.Errorf("Could not read identity from backup database: %v", err)
	}
	if pseudonym != "p1" {
		t.Errorf("Expected pseudonym p1 in backup, got %q", pseudonym)
	}

	if _, err := ds.BackupDatabase(""); err == nil {
		t.Error("Expected an error for an empty backup directory")
	}
}
