package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/pkg/repohost"
)

func TestRenderCommandPrintsWorkflow(t *testing.T) {
	script := filepath.Join(t.TempDir(), "adds.spec.ts")
	require.NoError(t, os.WriteFile(script, []byte("test('adds', async () => {});"), 0o600))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"render", "--script", script, "--browser", "firefox"})
	require.NoError(t, cmd.Execute())

	require.Contains(t, out.String(), ".github/workflows/grading.yml")
	require.Contains(t, out.String(), "playwright.config.ts")
	require.Contains(t, out.String(), "push")
}

func TestMaterializeCommandRequiresSubmission(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"materialize"})
	require.ErrorContains(t, cmd.Execute(), "--submission is required")
}

func TestPrintResultListsWarnings(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printResult(&out, service.MaterializeResult{
		Repository: repohost.Repository{URL: "https://github.com/acme/grading-a1-s2", Branch: "main"},
		Warnings:   []service.PartialWriteWarning{{Path: "logo.png", Reason: "binary content skipped"}},
	}))
	require.Contains(t, out.String(), "grading-a1-s2")
	require.Contains(t, out.String(), "warning:    logo.png: binary content skipped")
}
