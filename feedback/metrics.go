package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var submissionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedback_submissions",
	Help: "Number of feedback entries published",
}, []string{"kind"})

var rejectionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedback_rejections",
	Help: "Number of requests rejected by validation or lookup",
}, []string{"code"})

var retractionCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedback_auto_retractions",
	Help: "Number of entries retracted by community downvotes",
})

var warningCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedback_warnings",
	Help: "Number of relationship warnings issued",
}, []string{"kind"})

var uploadSessionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedback_upload_sessions",
	Help: "Upload session transitions",
}, []string{"outcome"})

var presentationFailureCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedback_presentation_failures",
	Help: "Number of failed platform calls",
}, []string{"call"})
