package feedback

import (
	"anonfeedback/config"
	"anonfeedback/models"
	"fmt"
)

const (
	messageTitle    = "📫 Anonymous feedback"
	fileDescription = "(file feedback)"
)

// FormatNumber renders a display number zero-padded to the display width.
func FormatNumber(n int64) string {
	return fmt.Sprintf("%0*d", config.DisplayNumberWidth, n)
}

func renderMessage(e *models.FeedbackEntry) models.Message {
	msg := models.Message{
		Title:       messageTitle,
		Description: e.Body,
		Footer:      fmt.Sprintf("Feedback #%s | %s %d removes it", FormatNumber(e.DisplayNumber), config.DownvoteEmoji, config.DownvoteThreshold),
		Timestamp:   e.CreatedAt.UTC(),
	}
	if msg.Description == "" {
		msg.Description = fileDescription
	}
	if e.FileRef.Valid {
		switch e.Kind {
		case models.KindImage:
			msg.ImageURL = e.FileRef.String
		case models.KindFile:
			msg.FileURL = e.FileRef.String
		}
	}
	return msg
}
