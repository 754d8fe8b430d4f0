package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mousedb/internal/snapshot"
	"mousedb/pkg/domain"
)

type cli struct {
	t        *testing.T
	location string
}

func newCLI(t *testing.T, location string) *cli {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	if location == "" {
		location = filepath.Join(dir, "colony.json")
	}
	return &cli{t: t, location: location}
}

func (c *cli) run(args ...string) (stdout, stderr string, code int) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--location", c.location}, args...)
	code = run(context.Background(), full, &out, &errOut)
	return out.String(), errOut.String(), code
}

func (c *cli) ok(args ...string) string {
	c.t.Helper()
	out, errOut, code := c.run(args...)
	require.Equal(c.t, exitOK, code, "mousedb %v failed: %s", args, errOut)
	return out
}

func (c *cli) createMouse(toe, genotype, sex, cage string) domain.Mouse {
	c.t.Helper()
	out := c.ok("--json", "mouse", "create", "--genotype", genotype, "--sex", sex, "--cage", cage,
		"--birth-date", "2024-11-02", "--toe", toe)
	var m domain.Mouse
	require.NoError(c.t, json.Unmarshal([]byte(out), &m))
	return m
}

func TestCommandTree(t *testing.T) {
	cmd := newRootCommand(&app{})
	for _, path := range [][]string{
		{"init"}, {"cage", "create"}, {"cage", "delete"}, {"cage", "list"},
		{"mouse", "create"}, {"mouse", "edit"}, {"mouse", "delete"}, {"mouse", "transfer"}, {"mouse", "show"},
		{"population"}, {"roster"}, {"ages"}, {"changelog"}, {"apply"}, {"compact"}, {"verify"}, {"saves"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
	for _, flag := range []string{"config", "location", "json", "trace"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestColonyLifecycle(t *testing.T) {
	c := newCLI(t, "")

	out := c.ok("init")
	assert.Contains(t, out, domain.CageWaitingRoom)
	assert.Contains(t, c.ok("init"), "CAGE", "second init creates nothing")

	c.ok("cage", "create", "C1", "--capacity", "4", "--note", "rack 1")
	c.ok("cage", "create", "C2")
	a := c.createMouse("R1", "WT", "F", "C1")
	b := c.createMouse("R2", "CMV-CRE", "M", "C1")
	assert.True(t, strings.HasPrefix(a.ID, "M-"))

	again := c.createMouse("R1", "WT", "F", "C1")
	assert.Equal(t, a.ID, again.ID, "re-import returns the existing id")

	_, errOut, code := c.run("mouse", "transfer", a.ID, "C1")
	assert.Equal(t, exitUser, code)
	assert.Contains(t, errOut, "no-op transfer")

	c.ok("mouse", "transfer", b.ID, "C2")
	c.ok("mouse", "edit", a.ID, "notes=breeder", "attr.coat=black")

	var shown domain.Mouse
	require.NoError(t, json.Unmarshal([]byte(c.ok("--json", "mouse", "show", a.ID)), &shown))
	assert.Equal(t, "breeder", shown.Metadata.Notes)
	assert.Equal(t, "black", shown.Metadata.Attributes["coat"])

	var counts []domain.PopulationCount
	require.NoError(t, json.Unmarshal([]byte(c.ok("--json", "population", "--group-by", "cage")), &counts))
	assert.Equal(t, []domain.PopulationCount{
		{Key: domain.CategoryKey{CageID: "C1"}, Count: 1},
		{Key: domain.CategoryKey{CageID: "C2"}, Count: 1},
	}, counts)

	roster := c.ok("roster", "C2")
	assert.Contains(t, roster, b.ID)
	assert.NotContains(t, roster, a.ID)

	_, errOut, code = c.run("cage", "delete", "C2")
	assert.Equal(t, exitUser, code)
	assert.Contains(t, errOut, "cage not empty")
	c.ok("cage", "delete", "C2", "--force", "--reassign-to", "C1")

	c.ok("mouse", "delete", b.ID)
	_, errOut, code = c.run("mouse", "create", "--genotype", "CMV-CRE", "--sex", "M", "--cage", "C1",
		"--birth-date", "2024-11-02", "--toe", "R2")
	assert.Equal(t, exitUser, code)
	assert.Contains(t, errOut, "duplicate entity")

	var history []domain.ChangeRecord
	require.NoError(t, json.Unmarshal([]byte(c.ok("--json", "changelog", "--history")), &history))
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.Less(t, history[i-1].Seq, history[i].Seq)
	}
	assert.Equal(t, "[]", strings.TrimSpace(c.ok("--json", "changelog")), "saved records are no longer pending")

	assert.Contains(t, c.ok("verify"), "ok")
	assert.Contains(t, c.ok("ages", "--at", "2025-03-01"), "WT")
}

func TestChangelogSummaryOverHistory(t *testing.T) {
	c := newCLI(t, "")
	c.ok("cage", "create", "C1")
	c.ok("cage", "create", "C2")
	a := c.createMouse("R1", "WT", "F", "C1")
	b := c.createMouse("R2", "CMV-CRE", "M", "C1")
	c.ok("mouse", "transfer", b.ID, "C2")

	// Every invocation saves, so nothing is pending afterwards.
	assert.Contains(t, c.ok("changelog", "--summary"), "Changelog: 0 change(s)")

	out := c.ok("changelog", "--summary", "--history")
	assert.Contains(t, out, "Changelog: 5 change(s)")
	assert.Contains(t, out, "+ C1")
	assert.Contains(t, out, a.ID+"  WT F  cage C1")
	assert.Contains(t, out, b.ID+"  C1 -> C2")
}

func TestSavesOnSQLite(t *testing.T) {
	dir := t.TempDir()
	c := newCLI(t, "sqlite://"+filepath.Join(dir, "colony.db"))
	c.ok("cage", "create", "C1")
	c.ok("cage", "create", "C2")

	var saves []snapshot.SaveInfo
	require.NoError(t, json.Unmarshal([]byte(c.ok("--json", "saves")), &saves))
	assert.Len(t, saves, 2)

	file := newCLI(t, "")
	_, errOut, code := file.run("saves")
	assert.Equal(t, exitUser, code)
	assert.Contains(t, errOut, "keeps only the latest snapshot")
}

func TestApplyExportedChangelog(t *testing.T) {
	src := newCLI(t, "")
	src.ok("cage", "create", "C1")
	src.createMouse("R1", "WT", "F", "C1")
	exported := src.ok("--json", "changelog", "--history")
	path := filepath.Join(t.TempDir(), "changes.json")
	require.NoError(t, os.WriteFile(path, []byte(exported), 0o644))

	dst := newCLI(t, "")
	assert.Contains(t, dst.ok("apply", path), "applied 2 change records")
	assert.Contains(t, dst.ok("cage", "list"), "C1")

	_, errOut, code := dst.run("apply", path)
	assert.Equal(t, exitUser, code)
	assert.Contains(t, errOut, "duplicate cage")
}

func TestApplyRejectsRecordsOutsideSchema(t *testing.T) {
	c := newCLI(t, "")
	c.ok("cage", "create", "C1")
	rec := domain.ChangeRecord{
		Kind: domain.OpCreate, Entity: domain.EntityMouse, EntityID: "X-1",
		After: domain.MouseState(domain.Mouse{ID: "X-1", Genotype: "NOT-IN-SCHEMA", Sex: "Q", CageID: "C1"}),
	}
	data, err := json.Marshal([]domain.ChangeRecord{rec})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "changes.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, errOut, code := c.run("apply", path)
	assert.Equal(t, exitUser, code)
	assert.Contains(t, errOut, "not in the schema")

	assert.NotContains(t, c.ok("roster", "C1"), "X-1")
	assert.Contains(t, c.ok("verify"), "ok")
}

func TestRuleBlockingFromConfig(t *testing.T) {
	c := newCLI(t, "")
	require.NoError(t, os.WriteFile("mousedb.yaml", []byte("rules:\n  cage_capacity: block\n"), 0o644))
	c.ok("cage", "create", "C1", "--capacity", "1")
	c.createMouse("R1", "WT", "F", "C1")
	_, errOut, code := c.run("mouse", "create", "--genotype", "WT", "--sex", "M", "--cage", "C1",
		"--birth-date", "2024-11-02", "--toe", "R2")
	assert.Equal(t, exitUser, code)
	assert.Contains(t, errOut, "cage_capacity")
}

func TestExitCodes(t *testing.T) {
	c := newCLI(t, "")
	_, _, code := c.run("mouse", "show", "M-missing")
	assert.Equal(t, exitUser, code)

	_, _, code = c.run("mouse", "edit", "M-1", "no-equals-sign")
	assert.Equal(t, exitUser, code)

	_, _, code = c.run("no-such-command")
	assert.Equal(t, exitUser, code)

	require.NoError(t, os.WriteFile(c.location, []byte(`{"schema_version": 1, "entities": [{"id": "M-1"}]}`), 0o644))
	_, errOut, code := c.run("verify")
	assert.Equal(t, exitSystem, code)
	assert.Contains(t, errOut, "load colony")

	_, errOut, code = c.run("--config", "missing.yaml", "verify")
	assert.Equal(t, exitSystem, code)
	assert.Contains(t, errOut, "load config")
}

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitUser, exitCode(domain.NotFound(domain.EntityCage, "C9")))
	assert.Equal(t, exitSystem, exitCode(&domain.IntegrityError{Check: "index"}))
	assert.Equal(t, exitSystem, exitCode(system("open storage", os.ErrPermission)))
}
