package cli

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// To regenerate golden files, run:
//
//	go test ./internal/cli -update
func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func seedListing(t *testing.T, env *testEnv) {
	t.Helper()
	env.mustRun(t, "set", "a", "1")
	env.mustRun(t, "set", "b", `{"x":"y"}`)
	env.mustRun(t, "set", "c", "hello")
	env.mustRun(t, "set", "user:1:name", "ann")
	env.mustRun(t, "set", "user:1:profile", `{"age":3,"tags":["new"]}`)
}

func TestGolden_LsText(t *testing.T) {
	env := newTestEnv(t)
	seedListing(t, env)

	newGoldie(t).Assert(t, "ls_text", []byte(env.mustRun(t, "ls")))
}

func TestGolden_LsJSON(t *testing.T) {
	env := newTestEnv(t)
	seedListing(t, env)

	newGoldie(t).Assert(t, "ls_json", []byte(env.mustRun(t, "--format", "json", "ls")))
}

func TestGolden_Version(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.writeFile(t, "shop.yaml", `
name: shop
version: 2
seed:
  k: v0
migrations:
  1: in + "a"
  2: in + "b"
`)

	g := newGoldie(t)
	g.Assert(t, "version_text", []byte(env.mustRun(t, "--config", cfg, "version")))
	g.Assert(t, "version_json", []byte(env.mustRun(t, "--config", cfg, "--format", "json", "version")))
}
