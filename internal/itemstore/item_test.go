package itemstore

import "testing"

func TestParseSource(t *testing.T) {
	tests := []struct {
		source  string
		message string
		want    Source
	}{
		{"cache", "", SourceCache},
		{"UPSTREAM", "", SourceUpstream},
		{"not-found", "", SourceNotFound},
		{"", MessageFromCache, SourceCache},
		{"", MessageFromDatabase, SourceUpstream},
		{"", MessageNotFound, SourceNotFound},
		{"cache", MessageFromDatabase, SourceCache},
		{"bogus", MessageFromCache, SourceCache},
		{"", "retrieved from cache", SourceUnknown},
		{"", "", SourceUnknown},
	}

	for _, tt := range tests {
		if got := ParseSource(tt.source, tt.message); got != tt.want {
			t.Errorf("ParseSource(%q, %q) = %v, want %v", tt.source, tt.message, got, tt.want)
		}
	}
}
