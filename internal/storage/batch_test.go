package storage

import "testing"

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"logs", "logs"},
		{"file_offsets", "file_offsets"},
		{"logs; DROP TABLE logs", "logsDROPTABLElogs"},
		{`"quoted"`, "quoted"},
		{"with spaces", "withspaces"},
		{"--;", ""},
	}
	for _, tt := range tests {
		if got := sanitizeIdentifier(tt.in); got != tt.want {
			t.Errorf("sanitizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildInsert(t *testing.T) {
	got := buildInsert("logs", []string{"timestamp", "level", "message"})
	want := "INSERT INTO logs (timestamp, level, message) VALUES (?, ?, ?)"
	if got != want {
		t.Errorf("buildInsert() = %q, want %q", got, want)
	}
}
