package canvas

import "time"

// Course is an active Canvas course.
type Course struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
}

// ContextCode is the calendar context reference for the course.
func (c Course) ContextCode() string {
	return contextCodeFor(c.ID)
}

type assignmentRecord struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	DueAt           *time.Time `json:"due_at"`
	PointsPossible  *float64   `json:"points_possible"`
	CourseID        int64      `json:"course_id"`
	HTMLURL         string     `json:"html_url"`
	SubmissionTypes []string   `json:"submission_types"`
	// plannableType is set when the record came from the planner feed.
	plannableType string
}

type plannerRecord struct {
	PlannableID   int64      `json:"plannable_id"`
	PlannableType string     `json:"plannable_type"`
	PlannableDate *time.Time `json:"plannable_date"`
	CourseID      int64      `json:"course_id"`
	HTMLURL       string     `json:"html_url"`
	Plannable     struct {
		Title           string     `json:"title"`
		Description     string     `json:"description"`
		DueAt           *time.Time `json:"due_at"`
		PointsPossible  *float64   `json:"points_possible"`
		HTMLURL         string     `json:"html_url"`
		SubmissionTypes []string   `json:"submission_types"`
	} `json:"plannable"`
}

type calendarEventRecord struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	StartAt       *time.Time `json:"start_at"`
	EndAt         *time.Time `json:"end_at"`
	Description   string     `json:"description"`
	LocationName  string     `json:"location_name"`
	ContextCode   string     `json:"context_code"`
	WorkflowState string     `json:"workflow_state"`
	HTMLURL       string     `json:"html_url"`
	AllDay        bool       `json:"all_day"`
}

type submissionRecord struct {
	ID            int64      `json:"id"`
	AssignmentID  int64      `json:"assignment_id"`
	WorkflowState string     `json:"workflow_state"`
	SubmittedAt   *time.Time `json:"submitted_at"`
}

// turnedIn reports whether the submission counts as completed work.
func (s submissionRecord) turnedIn() bool {
	switch s.WorkflowState {
	case "submitted", "graded", "pending_review":
		return true
	default:
		return false
	}
}

type observeeRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
