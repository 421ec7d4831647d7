package brief

import "testing"

func TestUpdateRollsLastThreeSummaries(t *testing.T) {
	s := NewStore()
	for i := 1; i <= 5; i++ {
		s.Update(summaryFor(i), nil, nil)
	}
	b := s.Current()
	if len(b.RecentSummaries) != maxRecentSummaries {
		t.Fatalf("expected %d retained summaries, got %d", maxRecentSummaries, len(b.RecentSummaries))
	}
	if b.RecentSummaries[0] != summaryFor(3) {
		t.Errorf("expected oldest retained summary to be iteration 3, got %q", b.RecentSummaries[0])
	}
}

func TestUpdateDedupesLearningsAndQuestions(t *testing.T) {
	s := NewStore()
	s.Update("s1", []string{"a", "b"}, []string{"q1?"})
	s.Update("s2", []string{"b", "c"}, []string{"q1?", "q2?"})

	b := s.Current()
	if len(b.Learnings) != 3 {
		t.Errorf("expected 3 deduped learnings, got %v", b.Learnings)
	}
	if len(b.OpenQuestions) != 2 {
		t.Errorf("expected 2 deduped open questions, got %v", b.OpenQuestions)
	}
}

func TestRenderIncludesAllSections(t *testing.T) {
	s := NewStore()
	s.Update("summary text", []string{"learning one"}, []string{"what next?"})
	rendered := s.Render()
	if rendered == "" {
		t.Fatal("expected non-empty render")
	}
}

func summaryFor(i int) string {
	return string(rune('a' + i))
}
