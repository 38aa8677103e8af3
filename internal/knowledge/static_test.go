package knowledge

import "testing"

func TestBuiltinProviderQuery(t *testing.T) {
	provider := NewBuiltinProvider(3)

	results := provider.Query("what is a health factor?")
	if len(results) == 0 {
		t.Fatal("expected a match for health factor question")
	}
	found := false
	for _, snippet := range results {
		if snippet.Title == "Health factor" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected health factor snippet, got %+v", results)
	}

	if results := provider.Query("completely unrelated gibberish"); len(results) != 0 {
		t.Fatalf("expected no match, got %+v", results)
	}
}

func TestProviderMaxResults(t *testing.T) {
	items := []Snippet{
		{Title: "a", Keywords: []string{"token"}},
		{Title: "b", Keywords: []string{"token"}},
		{Title: "c", Keywords: []string{"token"}},
	}
	provider := NewStaticProvider(items, 2)
	if results := provider.Query("tell me about token things"); len(results) != 2 {
		t.Fatalf("expected maxResults cap of 2, got %d", len(results))
	}
}
