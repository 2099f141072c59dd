// anonfeedback/config/config.go
package config

import "time"

const (
	AppVersion = "0.9.0"

	// Pseudonyms
	PseudonymSalt  = "anonymous_feedback"
	PseudonymWidth = 16 // hex characters

	// Display numbers are zero-padded to this width when rendered.
	DisplayNumberWidth = 6

	// Submission Limits
	MaxBodyLen      = 4000 // runes, below the 4096 embed description cap
	RateLimitWindow = 24 * time.Hour
	RateLimitMax    = 20

	// Moderation
	BanThreshold      = 3
	DownvoteThreshold = 10
	DownvoteEmoji     = "👎"
	MaxReasonLen      = 500

	// Upload Sessions
	UploadTTL        = 5 * time.Minute
	MaxFileSize      = 25 * 1024 * 1024 // 25MB
	MaxSessions      = 10000
	MaxImageWidth    = 8000
	MaxImageHeight   = 8000
	ImageJPEGQuality = 90

	// Command throttle defaults
	DefaultThrottleEvery  = "2s"
	DefaultThrottleBurst  = 5
	DefaultThrottlePrune  = "1h"
	DefaultThrottleExpire = "24h"
)

// ImageExtensions lists the extensions accepted for image feedback.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

// FileExtensions lists the extensions accepted for file feedback in addition to images.
var FileExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".zip", ".rar", ".7z", ".mp4", ".mp3", ".xlsx", ".xls", ".ppt", ".pptx"}
