package match

import (
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	ids := []string{"web1", "web2", "db1", "cache-a"}

	cases := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"star matches all", "*", []string{"cache-a", "db1", "web1", "web2"}},
		{"all keyword", "all", []string{"cache-a", "db1", "web1", "web2"}},
		{"empty pattern", "", []string{"cache-a", "db1", "web1", "web2"}},
		{"prefix glob", "web*", []string{"web1", "web2"}},
		{"question mark", "web?", []string{"web1", "web2"}},
		{"character class", "web[12]", []string{"web1", "web2"}},
		{"exact id", "db1", []string{"db1"}},
		{"no partial substring match", "eb1", []string{}},
		{"case sensitive", "WEB*", []string{}},
		{"comma union", "db1,web1", []string{"db1", "web1"}},
		{"no match", "mail*", []string{}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Match(c.pattern, ids)
			if err != nil {
				t.Fatalf("Match(%q): %v", c.pattern, err)
			}
			if len(got) == 0 && len(c.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, c.want) {
				t.Errorf("Match(%q): got %v, want %v", c.pattern, got, c.want)
			}
		})
	}
}

func TestMatchDeterministic(t *testing.T) {
	// Output order must not depend on candidate order.
	a, err := Match("*", []string{"b", "a", "c"})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	b, err := Match("*", []string{"c", "b", "a"})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("non-deterministic output: %v vs %v", a, b)
	}
	if !reflect.DeepEqual(a, []string{"a", "b", "c"}) {
		t.Errorf("output not sorted: %v", a)
	}
}

func TestMatchInvalidPattern(t *testing.T) {
	if _, err := Match("web[", []string{"web1"}); err == nil {
		t.Error("expected error for unterminated character class")
	}
}
