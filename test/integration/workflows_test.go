//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorkflow_CompleteSession logs in, walks the list, creates, updates and
// deletes one item, then logs out. DRF_TEST_RESOURCE must accept a "title"
// field.
func TestWorkflow_CompleteSession(t *testing.T) {
	config := LoadTestConfig(t)
	config.SkipIfMissingConfig(t)

	runner := NewCommandRunner(config, t)
	require.NoError(t, runner.Login())

	// 1. Who am I
	stdout, stderr, err := runner.Run("whoami", "-o", "json")
	require.NoError(t, err, "whoami failed: %s", stderr)
	AssertJSONOutput(t, stdout)

	// 2. First page of the resource
	stdout, stderr, err = runner.Run("list", config.Resource, "--page-size", "5", "-o", "json")
	require.NoError(t, err, "list failed: %s", stderr)

	var page struct {
		Count   int               `json:"count"`
		Results []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &page))
	assert.LessOrEqual(t, len(page.Results), 5)

	// 3. Create an item
	title := GenerateTestName("drfctl")
	stdout, stderr, err = runner.Run("create", config.Resource, "--set", "title="+title, "-o", "json")
	require.NoError(t, err, "create failed: %s", stderr)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &created))
	assert.Equal(t, title, created["title"])

	pk := fmt.Sprint(created["id"])
	defer runner.CleanupResource(config.Resource, pk)

	// 4. Validation errors are reported per field
	_, stderr, err = runner.Run("create", config.Resource, "--set", "title=")
	require.Error(t, err)
	assert.Contains(t, stderr, "title")

	// 5. Read and update the item
	stdout, stderr, err = runner.Run("get", config.Resource, pk, "-o", "yaml")
	require.NoError(t, err, "get failed: %s", stderr)
	AssertYAMLOutput(t, stdout)
	assert.Contains(t, stdout, title)

	stdout, stderr, err = runner.Run("update", config.Resource, pk, "--set", "title="+title+"-renamed", "-o", "json")
	require.NoError(t, err, "update failed: %s", stderr)
	assert.Contains(t, stdout, title+"-renamed")

	// 6. Delete it
	_, stderr, err = runner.Run("delete", config.Resource, pk)
	require.NoError(t, err, "delete failed: %s", stderr)

	_, _, err = runner.Run("get", config.Resource, pk)
	require.Error(t, err)

	// 7. Logout
	_, stderr, err = runner.Run("logout")
	require.NoError(t, err, "logout failed: %s", stderr)

	_, _, err = runner.Run("whoami")
	require.Error(t, err)
}

// TestWorkflow_WrongPassword checks a failed login leaves no session.
func TestWorkflow_WrongPassword(t *testing.T) {
	config := LoadTestConfig(t)
	config.SkipIfMissingConfig(t)

	runner := NewCommandRunner(config, t)

	_, stderr, err := runner.Run("--api", config.BaseURL, "login",
		"--username", config.Username, "--password", config.Password+"-wrong")
	require.Error(t, err)
	assert.NotEmpty(t, stderr)

	_, _, err = runner.Run("--api", config.BaseURL, "whoami")
	require.Error(t, err)
}
