//go:build integration

package integration

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestConfig holds configuration for integration tests
type TestConfig struct {
	BaseURL    string
	Username   string
	Password   string
	Resource   string
	DrfctlPath string
	WorkDir    string
	Verbose    bool
}

// LoadTestConfig loads configuration from environment variables
func LoadTestConfig(t *testing.T) *TestConfig {
	resource := os.Getenv("DRF_TEST_RESOURCE")
	if resource == "" {
		resource = "articles"
	}

	return &TestConfig{
		BaseURL:    os.Getenv("DRF_TEST_BASE_URL"),
		Username:   os.Getenv("DRF_TEST_USERNAME"),
		Password:   os.Getenv("DRF_TEST_PASSWORD"),
		Resource:   resource,
		DrfctlPath: getDrfctlPath(),
		WorkDir:    t.TempDir(),
		Verbose:    os.Getenv("DRFCTL_VERBOSE") == "true",
	}
}

// getDrfctlPath determines the path to the drfctl binary
func getDrfctlPath() string {
	if path := os.Getenv("DRFCTL_BINARY_PATH"); path != "" {
		return path
	}

	// Try common locations
	candidates := []string{
		"../../drfctl",
		"./drfctl",
		"../drfctl",
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "drfctl" // Fallback to PATH
}

// SkipIfMissingConfig skips test if required config is missing
func (config *TestConfig) SkipIfMissingConfig(t *testing.T) {
	if config.BaseURL == "" {
		t.Skip("DRF_TEST_BASE_URL not set, skipping integration test")
	}

	if config.Username == "" || config.Password == "" {
		t.Skip("DRF_TEST_USERNAME or DRF_TEST_PASSWORD not set, skipping integration test")
	}

	if _, err := exec.LookPath(config.DrfctlPath); err != nil {
		t.Skipf("drfctl binary not found at %s, skipping integration test", config.DrfctlPath)
	}
}

// CommandRunner provides utilities for running drfctl commands
type CommandRunner struct {
	config *TestConfig
	t      *testing.T
}

// NewCommandRunner creates a new command runner
func NewCommandRunner(config *TestConfig, t *testing.T) *CommandRunner {
	return &CommandRunner{
		config: config,
		t:      t,
	}
}

// Run executes a drfctl command and returns output
func (runner *CommandRunner) Run(args ...string) (stdout, stderr string, err error) {
	return runner.RunWithInput("", args...)
}

// RunWithInput executes a drfctl command with stdin input. Every command
// uses a config file and token directory private to the test.
func (runner *CommandRunner) RunWithInput(input string, args ...string) (stdout, stderr string, err error) {
	base := []string{
		"--config", filepath.Join(runner.config.WorkDir, "config.yml"),
		"--token-dir", filepath.Join(runner.config.WorkDir, "tokens"),
	}

	cmd := exec.Command(runner.config.DrfctlPath, append(base, args...)...)

	var stdoutBuf, stderrBuf bytes.Buffer

	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	cmd.Stdin = strings.NewReader(input)

	if runner.config.Verbose {
		runner.t.Logf("Running: %s %s", runner.config.DrfctlPath, strings.Join(args, " "))
	}

	err = cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if runner.config.Verbose && err != nil {
		runner.t.Logf("Command failed: %v\nStdout: %s\nStderr: %s", err, stdout, stderr)
	}

	return stdout, stderr, err
}

// Login authenticates the test user and remembers the endpoint
func (runner *CommandRunner) Login() error {
	_, stderr, err := runner.Run("--api", runner.config.BaseURL, "login",
		"--username", runner.config.Username,
		"--password", runner.config.Password)
	if err != nil {
		return fmt.Errorf("failed to log in: %s: %w", stderr, err)
	}

	return nil
}

// GenerateTestName creates a unique test resource name
func GenerateTestName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// CleanupResource attempts to delete a test item
func (runner *CommandRunner) CleanupResource(resource, pk string) {
	if pk == "" {
		return
	}

	stdout, stderr, err := runner.Run("delete", resource, pk)
	if err != nil && runner.config.Verbose {
		runner.t.Logf("Cleanup warning for %s %s: %s\nStderr: %s", resource, pk, stdout, stderr)
	}
}

// AssertJSONOutput verifies command output is valid JSON
func AssertJSONOutput(t *testing.T, output string) {
	output = strings.TrimSpace(output)
	if !strings.HasPrefix(output, "{") && !strings.HasPrefix(output, "[") {
		t.Errorf("Output does not appear to be JSON: %s", output)
	}
}

// AssertYAMLOutput verifies command output is valid YAML
func AssertYAMLOutput(t *testing.T, output string) {
	output = strings.TrimSpace(output)
	if strings.Contains(output, "---") || strings.Contains(output, ":") {
		return // Looks like YAML
	}

	t.Errorf("Output does not appear to be YAML: %s", output)
}
