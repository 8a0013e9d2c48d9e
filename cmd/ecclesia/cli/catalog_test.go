package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateCatalogEmbeddedJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := ValidateCatalogCommand(CatalogValidateOptions{JSONOutput: true, Stdout: &stdout, Stderr: &stderr})
	require.Equal(t, 0, code, stderr.String())

	var summary CatalogSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Equal(t, "embedded", summary.Source)
	require.Positive(t, summary.Permissions)
	require.Empty(t, summary.Problems)
	require.Equal(t, "announcements", summary.Modules[0].Module)
	require.Equal(t, "administrator", summary.Roles[0].Role)
	require.Equal(t, summary.Permissions, summary.Roles[0].Defaults)
}

func TestValidateCatalogReportsMissingOperationPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `permissions:
  - {name: events.view, module: events, action: view, description: View events}
roles:
  member: [events.view]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	var stdout, stderr bytes.Buffer
	code := ValidateCatalogCommand(CatalogValidateOptions{File: path, JSONOutput: true, Stdout: &stdout, Stderr: &stderr})
	require.Equal(t, 10, code)

	var summary CatalogSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.NotEmpty(t, summary.Problems)
	require.Equal(t, "unguarded_operation", summary.Problems[0].Kind)
}

func TestValidateCatalogRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `permissions:
  - {name: events.view, module: events, action: view, description: View events}
  - {name: events.view, module: events, action: view, description: Again}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	var stdout bytes.Buffer
	code := RunCatalog([]string{"validate", "--file", path}, &stdout, &bytes.Buffer{})
	require.Equal(t, 10, code)
	require.Contains(t, stdout.String(), "duplicate_permission")
}

func TestRunCatalogUsage(t *testing.T) {
	var stderr bytes.Buffer
	require.Equal(t, 2, RunCatalog(nil, &bytes.Buffer{}, &stderr))
	require.Contains(t, stderr.String(), "usage")
	require.Equal(t, 2, RunCatalog([]string{"validate", "--bogus"}, &bytes.Buffer{}, &bytes.Buffer{}))
}

func TestRunOfflineValidatesWithoutConfig(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "")
	var stdout, stderr bytes.Buffer

	code, ok := RunOffline([]string{"catalog", "validate", "--json"}, &stdout, &stderr)
	require.True(t, ok)
	require.Equal(t, 0, code, stderr.String())
	var summary CatalogSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)

	_, ok = RunOffline([]string{"jobs", "stats"}, &stdout, &stderr)
	require.False(t, ok)
	_, ok = RunOffline(nil, &stdout, &stderr)
	require.False(t, ok)
}
