package certificate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Section bounds for the three sub-scores.
const (
	MaxListening = 50
	MaxStructure = 40
	MaxReading   = 50
)

// ValidationError is returned when caller-supplied input is malformed.
// It is raised before any side effect and is never retried automatically.
// Handlers should convert it to HTTP 400.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range []string{"listening", "structure", "reading"} {
		if msg, ok := e.Fields[f]; ok {
			parts = append(parts, f+": "+msg)
		}
	}
	for f, msg := range e.Fields {
		switch f {
		case "listening", "structure", "reading":
		default:
			parts = append(parts, f+": "+msg)
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

// ExamScore holds the three section sub-scores of one exam sitting.
type ExamScore struct {
	Listening int `json:"listening"`
	Structure int `json:"structure"`
	Reading   int `json:"reading"`
}

// Validate checks every sub-score against its section bounds.
func (s ExamScore) Validate() error {
	verr := &ValidationError{}
	checkRange(verr, "listening", s.Listening, MaxListening)
	checkRange(verr, "structure", s.Structure, MaxStructure)
	checkRange(verr, "reading", s.Reading, MaxReading)
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func checkRange(verr *ValidationError, field string, v, max int) {
	if v < 0 || v > max {
		verr.add(field, fmt.Sprintf("must be between 0 and %d, got %d", max, v))
	}
}

// Total derives the scaled total score: the sum of the sub-scores times 10/3,
// rounded half away from zero.
func (s ExamScore) Total() int {
	sum := s.Listening + s.Structure + s.Reading
	return int(math.Round(float64(sum) * 10 / 3))
}

// Scored returns the sub-scores together with their derived total.
func (s ExamScore) Scored() ScoreSheet {
	return ScoreSheet{
		Listening: s.Listening,
		Structure: s.Structure,
		Reading:   s.Reading,
		Total:     s.Total(),
	}
}

// ScoreSheet is the score block embedded in a CertificateRecord. Total is
// carried for display but is always re-derivable from the sub-scores.
type ScoreSheet struct {
	Listening int `json:"listening"`
	Structure int `json:"structure"`
	Reading   int `json:"reading"`
	Total     int `json:"total"`
}

// Exam returns the sub-scores without the embedded total.
func (s ScoreSheet) Exam() ExamScore {
	return ExamScore{Listening: s.Listening, Structure: s.Structure, Reading: s.Reading}
}

// CheckTotal reports whether the embedded total equals the re-derived one.
func (s ScoreSheet) CheckTotal() bool {
	return s.Total == s.Exam().Total()
}

// ParseScores decodes operator input into an ExamScore. Values must be JSON
// integers; fractional numbers, strings and missing fields are rejected with
// a *ValidationError naming each field. Range checks are applied too.
func ParseScores(data []byte) (ExamScore, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ExamScore{}, &ValidationError{Fields: map[string]string{"body": "must be a JSON object"}}
	}

	verr := &ValidationError{}
	var s ExamScore
	s.Listening = parseInt(verr, raw, "listening")
	s.Structure = parseInt(verr, raw, "structure")
	s.Reading = parseInt(verr, raw, "reading")
	if len(verr.Fields) > 0 {
		return ExamScore{}, verr
	}
	return s, s.Validate()
}

func parseInt(verr *ValidationError, raw map[string]json.RawMessage, field string) int {
	msg, ok := raw[field]
	if !ok {
		verr.add(field, "is required")
		return 0
	}
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || msg[0] == '"' {
		verr.add(field, "must be an integer")
		return 0
	}
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		verr.add(field, "must be an integer")
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		verr.add(field, "must be an integer")
		return 0
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		verr.add(field, "is out of range")
		return 0
	}
	return int(v)
}
