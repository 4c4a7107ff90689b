package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dose3d/drf-crud-client/cmd/drfctl/commands"
	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// findSubcommand finds a subcommand by name within a cobra command.
func findSubcommand(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

// result captures one CLI invocation.
type result struct {
	stdout string
	stderr string
	err    error
}

// execute runs drfctl with a fresh viper state. Callers must not run in
// parallel since viper is global.
func execute(t *testing.T, stdin string, args ...string) result {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	root := commands.NewRootCommand("1.2.3", "abc123", "2026-01-01")

	var stdout, stderr bytes.Buffer

	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())

	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

type job struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// fakeDRF imitates a DRF backend with simplejwt and a "jobs" viewset.
type fakeDRF struct {
	server *httptest.Server
	access string

	mu       sync.Mutex
	calls    map[string]int
	uploaded string
}

func newFakeDRF(t *testing.T) *fakeDRF {
	t.Helper()

	claims := drf.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenType: "access",
		UserID:    1,
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	b := &fakeDRF{access: access, calls: map[string]int{}}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.server.Close)

	return b
}

func (b *fakeDRF) count(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls[method+" "+path]
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

//nolint:funlen
func (b *fakeDRF) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.calls[r.Method+" "+r.URL.Path]++
	b.mu.Unlock()

	if r.URL.Path == constants.DefaultLoginEndpoint {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)

		if creds["username"] != "admin" || creds["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})

			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"access": b.access, "refresh": "refresh-1"})

		return
	}

	if r.Header.Get("Authorization") != "Bearer "+b.access {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})

		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/jobs/":
		b.list(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/jobs/7/":
		writeJSON(w, http.StatusOK, job{ID: 7, Title: "seven"})
	case r.Method == http.MethodPost && r.URL.Path == "/api/jobs/":
		var created job
		_ = json.NewDecoder(r.Body).Decode(&created)

		if created.Title == "" {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"title": {"This field may not be blank."}})

			return
		}

		created.ID = 26
		writeJSON(w, http.StatusCreated, created)
	case r.Method == http.MethodPatch && r.URL.Path == "/api/jobs/7/":
		var patch job
		_ = json.NewDecoder(r.Body).Decode(&patch)
		writeJSON(w, http.StatusOK, job{ID: 7, Title: patch.Title})
	case r.Method == http.MethodDelete && r.URL.Path == "/api/jobs/7/":
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && r.URL.Path == "/api/jobs/7/run/":
		writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
	case r.Method == http.MethodPost && r.URL.Path == "/api/jobs/upload/":
		file, header, err := r.FormFile(constants.UploadFieldName)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"file": {"No file was submitted."}})

			return
		}

		content, _ := io.ReadAll(file)

		b.mu.Lock()
		b.uploaded = string(content)
		b.mu.Unlock()

		writeJSON(w, http.StatusCreated, map[string]string{"name": header.Filename})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	}
}

func (b *fakeDRF) list(w http.ResponseWriter, r *http.Request) {
	jobs := make([]job, 0, 25)
	for i := 1; i <= 25; i++ {
		jobs = append(jobs, job{ID: i, Title: "job " + strconv.Itoa(i)})
	}

	if r.URL.Query().Get(constants.PageParam) == "" {
		writeJSON(w, http.StatusOK, jobs)

		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get(constants.PageParam))
	size, _ := strconv.Atoi(r.URL.Query().Get(constants.PageSizeParam))

	start := min((page-1)*size, len(jobs))
	end := min(start+size, len(jobs))

	writeJSON(w, http.StatusOK, drf.PageResponse[job]{Count: len(jobs), Results: jobs[start:end]})
}
