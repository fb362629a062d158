package certificate

import "time"

// Display is the read-side projection of a verified record.
type Display struct {
	FullName    string    `json:"full_name"`
	StudentID   string    `json:"student_id"`
	Faculty     string    `json:"faculty"`
	Program     string    `json:"program"`
	ServiceName string    `json:"service_name"`
	ExamDate    string    `json:"exam_date"`
	Listening   int       `json:"listening"`
	Structure   int       `json:"structure"`
	Reading     int       `json:"reading"`
	Total       int       `json:"total"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Project flattens a record into its display model. The total shown is the
// re-derived one, which equals the embedded total for any record that passed
// CheckTotal.
func (r *Record) Project() *Display {
	return &Display{
		FullName:    r.Participant.FullName,
		StudentID:   r.Participant.StudentID,
		Faculty:     r.Participant.Faculty,
		Program:     r.Participant.Program,
		ServiceName: r.Exam.ServiceName,
		ExamDate:    r.Exam.Date,
		Listening:   r.Scores.Listening,
		Structure:   r.Scores.Structure,
		Reading:     r.Scores.Reading,
		Total:       r.Scores.Exam().Total(),
		IssuedAt:    r.IssuedAt,
	}
}
