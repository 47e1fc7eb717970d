package types //nolint:revive // types is a valid package name

import (
	"errors"
	"testing"
)

func TestParseMeasurement(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantErr   bool
		wantFatal bool
		wantURL   string
	}{
		{
			name:    "clean report",
			doc:     `{"lighthouseVersion":"4.0.0","requestedUrl":"https://example.com","finalUrl":"https://example.com/","fetchTime":"2019-01-01T00:00:00Z"}`,
			wantURL: "https://example.com/",
		},
		{
			name:    "explicit no error",
			doc:     `{"finalUrl":"https://a.test/","runtimeError":{"code":"NO_ERROR","message":""}}`,
			wantURL: "https://a.test/",
		},
		{
			name:      "fatal runtime error",
			doc:       `{"finalUrl":"https://a.test/","runtimeError":{"code":"FAILED_DOCUMENT_REQUEST","message":"boom"}}`,
			wantFatal: true,
			wantURL:   "https://a.test/",
		},
		{
			name:      "runtime error without code",
			doc:       `{"finalUrl":"https://a.test/","runtimeError":{"message":"page hung"}}`,
			wantFatal: true,
			wantURL:   "https://a.test/",
		},
		{
			name:      "runtime error with empty code",
			doc:       `{"finalUrl":"https://a.test/","runtimeError":{"code":""}}`,
			wantFatal: true,
			wantURL:   "https://a.test/",
		},
		{
			name:      "runtime error as string",
			doc:       `{"finalUrl":"https://a.test/","runtimeError":"crashed"}`,
			wantFatal: true,
			wantURL:   "https://a.test/",
		},
		{
			name:    "null runtime error",
			doc:     `{"finalUrl":"https://a.test/","runtimeError":null}`,
			wantURL: "https://a.test/",
		},
		{name: "null document", doc: `null`, wantErr: true},
		{name: "array document", doc: `[1,2]`, wantErr: true},
		{name: "invalid json", doc: `{"a":`, wantErr: true},
		{name: "empty", doc: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMeasurement([]byte(tt.doc))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got measurement %+v", m)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.Fatal() != tt.wantFatal {
				t.Errorf("Fatal() = %v, want %v", m.Fatal(), tt.wantFatal)
			}
			if m.FinalURL != tt.wantURL {
				t.Errorf("FinalURL = %q, want %q", m.FinalURL, tt.wantURL)
			}
			if string(m.Raw) != tt.doc {
				t.Errorf("Raw not preserved: %q", m.Raw)
			}
		})
	}
}

func TestParseMeasurement_EmptySentinel(t *testing.T) {
	_, err := ParseMeasurement(nil)
	if !errors.Is(err, ErrEmptyMeasurement) {
		t.Errorf("expected ErrEmptyMeasurement, got %v", err)
	}
}

func TestDeriveSuccess(t *testing.T) {
	tests := []struct {
		name   string
		result RunResult
		want   bool
	}{
		{"no measurement", RunResult{Type: "PSI", Output: "Error: timed out run for PSI"}, false},
		{"measurement without runtime error", RunResult{Measurement: &Measurement{}}, true},
		{"NO_ERROR code", RunResult{Measurement: &Measurement{RuntimeError: &RuntimeError{Code: RuntimeErrorNone}}}, true},
		{"fatal code", RunResult{Measurement: &Measurement{RuntimeError: &RuntimeError{Code: "NO_FCP"}}}, false},
		{"empty code", RunResult{Measurement: &Measurement{RuntimeError: &RuntimeError{}}}, false},
		{"runtime error with message only", RunResult{Measurement: &Measurement{RuntimeError: &RuntimeError{Message: "page hung"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveSuccess(tt.result); got != tt.want {
				t.Errorf("DeriveSuccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunSet_Summary(t *testing.T) {
	set := RunSet{
		Target: "https://example.com",
		Results: []RunResult{
			{Type: "lighthouse@4.0.0", Success: true, Output: "ok"},
			{Type: "PSI", Success: false, Output: "nope"},
		},
	}

	s := set.Summary()
	if s.URL != set.Target {
		t.Errorf("URL = %q, want %q", s.URL, set.Target)
	}
	if len(s.Runs) != 2 || s.Runs[0].Type != "lighthouse@4.0.0" || s.Runs[1].Type != "PSI" {
		t.Fatalf("order not preserved: %+v", s.Runs)
	}

	ok, failed := s.Counts()
	if ok != 1 || failed != 1 {
		t.Errorf("Counts() = (%d, %d), want (1, 1)", ok, failed)
	}
}
