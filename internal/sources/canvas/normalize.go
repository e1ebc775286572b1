package canvas

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shrutihegde1/study-buddy/internal/items"
)

func normalizeAssignment(record assignmentRecord, baseURL string, courseNames map[int64]string, submissions map[int64]submissionRecord, now time.Time) items.NormalizedItem {
	kind := items.KindAssignment
	if slices.Contains(record.SubmissionTypes, "online_quiz") || record.plannableType == "quiz" {
		kind = items.KindQuiz
	}
	item := items.NormalizedItem{
		Title:       strings.TrimSpace(record.Name),
		Description: record.Description,
		Kind:        kind,
		DueAt:       record.DueAt,
		Source:      items.SourceCanvas,
		SourceID:    "assignment_" + strconv.FormatInt(record.ID, 10),
		SourceURL:   absoluteURL(baseURL, record.HTMLURL),
		CourseLabel: courseNames[record.CourseID],
		Priority:    items.PriorityMedium,
	}
	if record.CourseID != 0 {
		item.ContextCode = contextCodeFor(record.CourseID)
	}
	if submission, ok := submissions[record.ID]; ok && submission.turnedIn() {
		completedAt := now.UTC()
		if submission.SubmittedAt != nil {
			completedAt = submission.SubmittedAt.UTC()
		}
		item.Status = items.StatusCompleted
		item.CompletedAt = &completedAt
	}
	return item
}

// normalizeEvent maps a calendar event to an activity. Events whose context
// code is not a known course keep the code so a later rule can label them.
func normalizeEvent(event calendarEventRecord, baseURL string, contextNames map[string]string) items.NormalizedItem {
	return items.NormalizedItem{
		Title:       strings.TrimSpace(event.Title),
		Description: event.Description,
		Kind:        items.KindActivity,
		StartAt:     event.StartAt,
		EndAt:       event.EndAt,
		AllDay:      event.AllDay,
		Source:      items.SourceCanvas,
		SourceID:    "event_" + strconv.FormatInt(event.ID, 10),
		SourceURL:   absoluteURL(baseURL, event.HTMLURL),
		CourseLabel: contextNames[event.ContextCode],
		ContextCode: event.ContextCode,
		Priority:    items.PriorityMedium,
	}
}

func absoluteURL(baseURL, link string) string {
	if link == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return baseURL + link
}
