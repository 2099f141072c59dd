// anonfeedback/models/models.go
package models

import (
	"anonfeedback/config"
	"database/sql"
	"time"
)

// --- Core Data Models ---

type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindFile  ContentKind = "file"
)

// Valid reports whether k is one of the known content kinds.
func (k ContentKind) Valid() bool {
	return k == KindText || k == KindImage || k == KindFile
}

type WarningKind string

const (
	WarningCommunityDownvote WarningKind = "community-downvote"
	WarningAuthorAction      WarningKind = "author-action"
	WarningAdminAction       WarningKind = "admin-action"
)

type Identity struct {
	Pseudonym    string
	RealUserID   int64
	CommunityID  int64
	Banned       bool
	WarningCount int
	CreatedAt    time.Time
}

type FeedbackEntry struct {
	ID             int64
	DisplayNumber  int64
	Pseudonym      string
	CommunityID    int64
	TargetLink     string
	TargetThreadID int64
	Kind           ContentKind
	Body           string
	FileRef        sql.NullString
	MessageID      sql.NullInt64
	CreatedAt      time.Time
	Deleted        bool
}

type DownvoteTally struct {
	MessageID   int64
	FeedbackID  int64
	CommunityID int64
	Count       int
}

type WarningEvent struct {
	ID          int64
	Pseudonym   string
	CommunityID int64
	Kind        WarningKind
	OwnerID     sql.NullInt64
	FeedbackID  sql.NullInt64
	ModeratorID sql.NullInt64
	Reason      string
	CreatedAt   time.Time
}

type RelationshipWarning struct {
	Pseudonym   string
	CommunityID int64
	OwnerID     int64
	Count       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Banned is derived from the counter and never stored.
func (rw RelationshipWarning) Banned() bool {
	return IsBannedCount(rw.Count)
}

// IsBannedCount is the single ban predicate for a relationship warning counter.
func IsBannedCount(count int) bool {
	return count >= config.BanThreshold
}

type PendingUploadSession struct {
	RealUserID    int64       `json:"real_user_id"`
	Pseudonym     string      `json:"pseudonym"`
	CommunityID   int64       `json:"community_id"`
	ThreadID      int64       `json:"thread_id"`
	TargetLink    string      `json:"target_link"`
	Kind          ContentKind `json:"kind"`
	Description   string      `json:"description"`
	DisplayNumber int64       `json:"display_number"`
	CreatedAt     time.Time   `json:"created_at"`
}

// --- Presentation Models ---

// Message is the rendered form of a feedback entry handed to the platform.
type Message struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Footer      string    `json:"footer"`
	ImageURL    string    `json:"image_url,omitempty"`
	FileURL     string    `json:"file_url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// --- Moderation Views ---

type UserStats struct {
	Identity      Identity
	TotalPosted   int
	TotalDeleted  int
	Relationships []RelationshipWarning
	RecentEvents  []WarningEvent
}

type TraceResult struct {
	Entry            FeedbackEntry
	RelationshipHits int
	Banned           bool
	SameThreadNums   []int64
}
