// Package certificate defines the immutable certificate record shared by the
// issuance saga, the scoring backend and the verification resolver.
//
// A Record is encoded once into canonical bytes. Those bytes are what the
// content store addresses (the locator) and what the anchor hash commits to,
// so a record is never mutated after Encode: corrections produce a new record.
package certificate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordVersion is the current record schema version.
const RecordVersion = 1

// ExamDateLayout is the wire format of Exam.Date.
const ExamDateLayout = "2006-01-02"

// ErrMalformedRecord is returned by Decode when bytes do not form a valid record.
var ErrMalformedRecord = errors.New("malformed certificate record")

// Participant identifies the certified test taker.
type Participant struct {
	FullName  string `json:"full_name"`
	StudentID string `json:"student_id"`
	Faculty   string `json:"faculty"`
	Program   string `json:"program"`
}

// Exam describes the session the scores were obtained in.
type Exam struct {
	ServiceName string `json:"service_name"`
	Date        string `json:"exam_date"`
}

// Record is the certificate payload published to the content store.
type Record struct {
	Version      int         `json:"version"`
	Participant  Participant `json:"participant"`
	Exam         Exam        `json:"exam"`
	Scores       ScoreSheet  `json:"scores"`
	EnrollmentID uuid.UUID   `json:"enrollment_id"`
	IssuedAt     time.Time   `json:"issued_at"`
}

// NewRecord builds a record for the given scores. The total is derived here
// and nowhere else.
func NewRecord(enrollmentID uuid.UUID, p Participant, e Exam, s ExamScore, issuedAt time.Time) (*Record, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	r := &Record{
		Version:      RecordVersion,
		Participant:  p,
		Exam:         e,
		Scores:       s.Scored(),
		EnrollmentID: enrollmentID,
		IssuedAt:     issuedAt.UTC().Truncate(time.Second),
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Encode returns the canonical byte form of the record.
func (r *Record) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// Decode parses canonical record bytes. Unknown fields and missing required
// fields are rejected with an error wrapping ErrMalformedRecord. The embedded
// total is not checked here; see ScoreSheet.CheckTotal.
func Decode(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var r Record
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedRecord)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return &r, nil
}

func (r *Record) validate() error {
	verr := &ValidationError{}
	if r.Version != RecordVersion {
		verr.add("version", fmt.Sprintf("unsupported version %d", r.Version))
	}
	if strings.TrimSpace(r.Participant.FullName) == "" {
		verr.add("full_name", "is required")
	}
	if strings.TrimSpace(r.Participant.StudentID) == "" {
		verr.add("student_id", "is required")
	}
	if strings.TrimSpace(r.Exam.ServiceName) == "" {
		verr.add("service_name", "is required")
	}
	if _, err := time.Parse(ExamDateLayout, r.Exam.Date); err != nil {
		verr.add("exam_date", "must be YYYY-MM-DD")
	}
	if r.EnrollmentID == uuid.Nil {
		verr.add("enrollment_id", "is required")
	}
	if r.IssuedAt.IsZero() {
		verr.add("issued_at", "is required")
	}
	if err := r.Scores.Exam().Validate(); err != nil {
		var sub *ValidationError
		if errors.As(err, &sub) {
			for f, msg := range sub.Fields {
				verr.add(f, msg)
			}
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
