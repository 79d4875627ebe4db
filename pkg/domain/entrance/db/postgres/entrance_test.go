package postgres_test

import (
	"testing"

	postgres "github.com/bkpaas/apcp/pkg/domain/entrance/db/postgres"
)

func TestHostMatchesAny(t *testing.T) {

	type When struct {
		Host     string
		Patterns []string
	}

	type Then struct {
		Match bool
	}

	theory := func(when When, then Then) func(t *testing.T) {
		return func(t *testing.T) {
			if got := postgres.HostMatchesAny(when.Host, when.Patterns); got != then.Match {
				t.Errorf(
					"unmatch: HostMatchesAny(%q, %v): (actual, expected) = (%v, %v)",
					when.Host, when.Patterns, got, then.Match,
				)
			}
		}
	}

	t.Run("exact host matches", theory(
		When{Host: "demo.example.com", Patterns: []string{"demo.example.com"}},
		Then{Match: true},
	))
	t.Run("wildcard covers one extra label", theory(
		When{Host: "demo.example.com", Patterns: []string{"*.example.com"}},
		Then{Match: true},
	))
	t.Run("wildcard does not cover two labels", theory(
		When{Host: "stag.demo.example.com", Patterns: []string{"*.example.com"}},
		Then{Match: false},
	))
	t.Run("wildcard does not cover the bare parent", theory(
		When{Host: "example.com", Patterns: []string{"*.example.com"}},
		Then{Match: false},
	))
	t.Run("any pattern in the list suffices", theory(
		When{Host: "demo.example.com", Patterns: []string{"other.net", "*.example.com"}},
		Then{Match: true},
	))
	t.Run("no patterns match nothing", theory(
		When{Host: "demo.example.com", Patterns: nil},
		Then{Match: false},
	))
}
