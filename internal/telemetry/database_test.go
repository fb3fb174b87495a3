package telemetry

import (
	"strings"
	"testing"
)

func TestWithSearchPath(t *testing.T) {
	t.Run("url form", func(t *testing.T) {
		got, err := WithSearchPath("postgres://u:p@localhost:5432/shop?sslmode=disable", "checkout")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(got, "search_path=checkout") || !strings.Contains(got, "sslmode=disable") {
			t.Errorf("unexpected dsn %s", got)
		}
	})

	t.Run("keyword form", func(t *testing.T) {
		got, err := WithSearchPath("host=localhost dbname=shop", "checkout")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "host=localhost dbname=shop search_path=checkout" {
			t.Errorf("unexpected dsn %s", got)
		}
	})

	t.Run("empty schema leaves dsn alone", func(t *testing.T) {
		got, _ := WithSearchPath("postgres://localhost/shop", "")
		if got != "postgres://localhost/shop" {
			t.Errorf("unexpected dsn %s", got)
		}
	})
}
