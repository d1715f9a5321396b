package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/cohort/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"FrameID", id.NewFrameID, "frm_"},
		{"TagID", id.NewTagID, "mtag_"},
		{"SessionID", id.NewSessionID, "sess_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
		{"TagID", id.NewTagID, id.ParseTagID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseWorkerID(id.NewTagID().String()); err == nil {
		t.Error("ParseWorkerID accepted an mtag_ ID")
	}
	if _, err := id.ParseTagID(id.NewWorkerID().String()); err == nil {
		t.Error("ParseTagID accepted a wkr_ ID")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type record struct {
		Worker id.WorkerID `json:"worker"`
		Tag    id.TagID    `json:"tag"`
	}

	original := record{Worker: id.NewWorkerID()}
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Worker.String() != original.Worker.String() {
		t.Errorf("Worker = %q, want %q", decoded.Worker, original.Worker)
	}
	if !decoded.Tag.IsNil() {
		t.Errorf("Tag = %q, want nil", decoded.Tag)
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewFrameID()
	b := id.NewFrameID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewFrameID() calls returned the same ID: %q", a.String())
	}
}
