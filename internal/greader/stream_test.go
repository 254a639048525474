package greader

import (
	"testing"
	"time"

	"aggreader/internal/database"
)

func TestParseStream(t *testing.T) {
	tests := []struct {
		in      string
		want    streamScope
		wantErr bool
	}{
		{"", streamScope{State: stateReadingList}, false},
		{"user/-/state/com.google/reading-list", streamScope{State: stateReadingList}, false},
		{"user/-/state/com.google/read", streamScope{State: stateRead}, false},
		{"user/-/state/com.google/starred", streamScope{State: stateStarred}, false},
		{"feed/42", streamScope{FeedRef: "42"}, false},
		{"feed/https://example.com/feed.xml", streamScope{FeedRef: "https://example.com/feed.xml"}, false},
		{"user/-/label/Tech", streamScope{Label: "Tech"}, false},
		{"feed/", streamScope{}, true},
		{"user/-/label/", streamScope{}, true},
		{"user/-/state/com.google/unknown", streamScope{}, true},
		{"garbage", streamScope{}, true},
	}

	for _, tt := range tests {
		got, err := parseStream(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseStream(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseStream(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseStream(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestStreamScopeFeedID(t *testing.T) {
	if got := (streamScope{FeedRef: "42"}).feedID(); got != 42 {
		t.Errorf("feedID = %d, want 42", got)
	}
	if got := (streamScope{FeedRef: "https://example.com"}).feedID(); got != 0 {
		t.Errorf("feedID for URL ref = %d, want 0", got)
	}
}

func TestApplyTagConstraint(t *testing.T) {
	var filter database.ArticleFilter
	if err := applyTagConstraint(&filter, statePrefix+stateRead, false); err != nil {
		t.Fatalf("applyTagConstraint failed: %v", err)
	}
	if filter.ReadState == nil || *filter.ReadState {
		t.Errorf("Excluding read should constrain to unread, got %v", filter.ReadState)
	}

	filter = database.ArticleFilter{}
	if err := applyTagConstraint(&filter, statePrefix+stateStarred, true); err != nil {
		t.Fatalf("applyTagConstraint failed: %v", err)
	}
	if filter.StarState == nil || !*filter.StarState {
		t.Errorf("Including starred should constrain to starred, got %v", filter.StarState)
	}

	filter = database.ArticleFilter{}
	if err := applyTagConstraint(&filter, statePrefix+stateReadingList, false); err != nil {
		t.Fatalf("applyTagConstraint failed: %v", err)
	}
	if filter.FeedID != -1 {
		t.Error("Excluding the reading list should make the filter impossible")
	}

	if err := applyTagConstraint(&filter, "user/-/label/Tech", true); err == nil {
		t.Error("Expected label tag constraint to be rejected")
	}
}

func TestContinuationRoundTrip(t *testing.T) {
	ref := database.ArticleRef{ID: 77, Date: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	token := encodeContinuation(ref)
	date, id, err := decodeContinuation(token)
	if err != nil {
		t.Fatalf("decodeContinuation failed: %v", err)
	}
	if id != 77 || !date.Equal(ref.Date) {
		t.Errorf("Round trip gave id=%d date=%v, want id=77 date=%v", id, date, ref.Date)
	}

	if _, _, err := decodeContinuation("!!not-base64!!"); err == nil {
		t.Error("Expected malformed token rejected")
	}
	if _, _, err := decodeContinuation("bm8tY29sb24="); err == nil {
		t.Error("Expected token without separator rejected")
	}
}

func TestParseItemID(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"123", 123, false},
		{" 123 ", 123, false},
		{"tag:google.com,2005:reader/item/00000000000001a4", 420, false},
		{"tag:google.com,2005:reader/item/zzz", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseItemID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseItemID(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseItemID(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseItemID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
