package certificate_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/examcert/internal/certificate"
)

var (
	testEnrollment = uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	testIssuedAt   = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
)

func testRecord(t *testing.T, s certificate.ExamScore) *certificate.Record {
	t.Helper()
	r, err := certificate.NewRecord(testEnrollment,
		certificate.Participant{FullName: "Ana Putri", StudentID: "1901234", Faculty: "Engineering", Program: "Informatics"},
		certificate.Exam{ServiceName: "EPT March 2026", Date: "2026-03-12"},
		s, testIssuedAt,
	)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	return r
}

func TestTotal_knownValues(t *testing.T) {
	cases := []struct {
		s    certificate.ExamScore
		want int
	}{
		{certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40}, 400},
		{certificate.ExamScore{}, 0},
		{certificate.ExamScore{Listening: 50, Structure: 40, Reading: 50}, 467},
		{certificate.ExamScore{Listening: 1}, 3},
		{certificate.ExamScore{Listening: 1, Reading: 1}, 7},
	}
	for _, tc := range cases {
		if got := tc.s.Total(); got != tc.want {
			t.Errorf("Total(%+v) = %d, want %d", tc.s, got, tc.want)
		}
	}
}

// Every valid triple must survive record encoding with a re-derivable total.
func TestTotal_derivationLaw(t *testing.T) {
	for l := 0; l <= certificate.MaxListening; l++ {
		for s := 0; s <= certificate.MaxStructure; s++ {
			for r := 0; r <= certificate.MaxReading; r++ {
				sheet := certificate.ExamScore{Listening: l, Structure: s, Reading: r}.Scored()
				if !sheet.CheckTotal() {
					t.Fatalf("CheckTotal failed for %+v", sheet)
				}
			}
		}
	}

	rec := testRecord(t, certificate.ExamScore{Listening: 33, Structure: 21, Reading: 48})
	data, err := rec.Encode()
	if err != nil {
		t.Fatal(err)
	}
	back, err := certificate.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.Scores.Total != back.Scores.Exam().Total() {
		t.Errorf("stored total %d != recomputed %d", back.Scores.Total, back.Scores.Exam().Total())
	}
}

func TestValidate_bounds(t *testing.T) {
	cases := []struct {
		name   string
		s      certificate.ExamScore
		fields []string
	}{
		{"valid max", certificate.ExamScore{Listening: 50, Structure: 40, Reading: 50}, nil},
		{"listening high", certificate.ExamScore{Listening: 51}, []string{"listening"}},
		{"structure high", certificate.ExamScore{Structure: 41}, []string{"structure"}},
		{"reading negative", certificate.ExamScore{Reading: -1}, []string{"reading"}},
		{"all bad", certificate.ExamScore{Listening: -3, Structure: 99, Reading: 51}, []string{"listening", "structure", "reading"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate()
			if tc.fields == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *certificate.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if len(verr.Fields) != len(tc.fields) {
				t.Errorf("fields: got %v, want %v", verr.Fields, tc.fields)
			}
			for _, f := range tc.fields {
				if _, ok := verr.Fields[f]; !ok {
					t.Errorf("missing field %q in %v", f, verr.Fields)
				}
			}
		})
	}
}

func TestParseScores(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"ok", `{"listening":45,"structure":35,"reading":40}`, false},
		{"fractional", `{"listening":45.5,"structure":35,"reading":40}`, true},
		{"string", `{"listening":"45","structure":35,"reading":40}`, true},
		{"missing", `{"listening":45,"structure":35}`, true},
		{"out of range", `{"listening":45,"structure":41,"reading":40}`, true},
		{"not an object", `[1,2,3]`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := certificate.ParseScores([]byte(tc.body))
			if tc.wantErr {
				var verr *certificate.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected *ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s != (certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40}) {
				t.Errorf("got %+v", s)
			}
		})
	}
}

func TestDecode_rejectsMalformed(t *testing.T) {
	rec := testRecord(t, certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40})
	good, err := rec.Encode()
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string][]byte{
		"not json":      []byte("%PDF-1.7"),
		"unknown field": []byte(strings.Replace(string(good), `"version":1`, `"version":1,"extra":true`, 1)),
		"trailing":      append(append([]byte{}, good...), []byte(`{}`)...),
		"bad version":   []byte(strings.Replace(string(good), `"version":1`, `"version":9`, 1)),
		"no name":       []byte(strings.Replace(string(good), `"full_name":"Ana Putri"`, `"full_name":""`, 1)),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := certificate.Decode(data); !errors.Is(err, certificate.ErrMalformedRecord) {
				t.Errorf("expected ErrMalformedRecord, got %v", err)
			}
		})
	}
}

func TestDecode_keepsCorruptTotal(t *testing.T) {
	rec := testRecord(t, certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40})
	data, _ := rec.Encode()
	tampered := strings.Replace(string(data), `"total":400`, `"total":500`, 1)

	back, err := certificate.Decode([]byte(tampered))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Scores.CheckTotal() {
		t.Error("CheckTotal should fail for a tampered total")
	}
}

func TestAnchorHash(t *testing.T) {
	// Keccak-256 of the empty input.
	const empty = "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if got := certificate.AnchorHash(nil); got != empty {
		t.Errorf("AnchorHash(nil) = %s", got)
	}

	rec := testRecord(t, certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40})
	a, _ := rec.Encode()
	b, _ := rec.Encode()
	if certificate.AnchorHash(a) != certificate.AnchorHash(b) {
		t.Error("hash of identical bytes differs")
	}
	if !certificate.ValidAnchorHash(certificate.AnchorHash(a)) {
		t.Error("derived hash should be valid")
	}
	for _, bad := range []string{"", "0xH1", "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", "0x" + strings.Repeat("z", 64)} {
		if certificate.ValidAnchorHash(bad) {
			t.Errorf("ValidAnchorHash(%q) = true", bad)
		}
	}
}

func TestProject(t *testing.T) {
	rec := testRecord(t, certificate.ExamScore{Listening: 45, Structure: 35, Reading: 40})
	d := rec.Project()
	if d.FullName != "Ana Putri" || d.Listening != 45 || d.Structure != 35 || d.Reading != 40 || d.Total != 400 {
		t.Errorf("unexpected projection: %+v", d)
	}
	if d.ExamDate != "2026-03-12" {
		t.Errorf("ExamDate: got %q", d.ExamDate)
	}
}
