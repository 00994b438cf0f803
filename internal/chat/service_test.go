// ABOUTME: Tests for chat service helpers that need no live API
// ABOUTME: Covers short-query short-circuit, history mapping, and citations
package chat

import (
	"context"
	"testing"

	"google.golang.org/genai"
)

func TestAnalyzeQueryForToolsShortQuery(t *testing.T) {
	// Under five runes the classifier is skipped entirely, so no client
	// is needed.
	s := &Service{}
	tests := []string{"", "hi", "  ok  ", "1234"}
	for _, q := range tests {
		hints, err := s.AnalyzeQueryForTools(context.Background(), q)
		if err != nil {
			t.Errorf("Query %q: unexpected error %v", q, err)
		}
		if hints.UseSearch || hints.UseMaps {
			t.Errorf("Query %q: hints = %+v, want none", q, hints)
		}
	}
}

func TestHistoryContentsRoles(t *testing.T) {
	turns := []Turn{
		{Role: "user", Text: "hello"},
		{Role: "model", Text: "hi there"},
		{Role: "user", Text: "thanks"},
	}
	contents := historyContents(turns)
	if len(contents) != 3 {
		t.Fatalf("Got %d contents, want 3", len(contents))
	}
	wantRoles := []genai.Role{genai.RoleUser, genai.RoleModel, genai.RoleUser}
	for i, want := range wantRoles {
		if genai.Role(contents[i].Role) != want {
			t.Errorf("Content %d role = %q, want %q", i, contents[i].Role, want)
		}
	}
	if contents[1].Parts[0].Text != "hi there" {
		t.Errorf("Content 1 text = %q", contents[1].Parts[0].Text)
	}
}

func TestGroundingSources(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			GroundingMetadata: &genai.GroundingMetadata{
				GroundingChunks: []*genai.GroundingChunk{
					{Web: &genai.GroundingChunkWeb{Title: "Example", URI: "https://example.com"}},
					{Web: nil},
				},
			},
		}},
	}
	sources := groundingSources(resp)
	if len(sources) != 1 {
		t.Fatalf("Got %d sources, want 1", len(sources))
	}
	if sources[0].Title != "Example" || sources[0].URI != "https://example.com" {
		t.Errorf("Source = %+v", sources[0])
	}
}

func TestGroundingSourcesEmpty(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{}},
	}
	if got := groundingSources(resp); got != nil {
		t.Errorf("Got %v, want nil", got)
	}
}

func TestNewServiceRequiresKey(t *testing.T) {
	if _, err := NewService(context.Background(), "", Models{}); err != ErrMissingAPIKey {
		t.Errorf("Error = %v, want ErrMissingAPIKey", err)
	}
}
