package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/dose3d/drf-crud-client/internal/logx"
	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/dose3d/drf-crud-client/pkg/drfclient"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Common string constants used throughout the commands package.
const (
	NotAvailable = "N/A"

	configDirName  = ".drfctl"
	configFileName = "config.yml"
	tokenDirName   = "tokens"

	defaultJSONIndent = 2
)

// Common static errors used throughout the commands package.
var (
	ErrAPIEndpointRequired = errors.New("API endpoint is required, pass --api or run 'drfctl config set api URL'")
	ErrUsernameRequired    = errors.New("username is required")
	ErrInvalidFieldFormat  = errors.New("invalid field, expected key=value")
	ErrDataConflict        = errors.New("--data and --set cannot be combined")
	ErrValidationFailed    = errors.New("request rejected by validation")
	ErrUnknownConfigKey    = errors.New("unknown configuration key")
	ErrInvalidBody         = errors.New("request body is not valid JSON")
	ErrInvalidOutputFormat = errors.New("output must be one of table, json, yaml")
)

// configDir returns ~/.drfctl.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, configDirName), nil
}

// tokenDir is where the file token store keeps the session.
func tokenDir() (string, error) {
	if dir := viper.GetString("token_dir"); dir != "" {
		return dir, nil
	}

	dir, err := configDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, tokenDirName), nil
}

// newClient builds a client from the bound flags, the CLI config file and
// the optional library config file.
func newClient(ctx context.Context) (*drfclient.Client, error) {
	cfg := &drfclient.Config{}

	if path := viper.GetString("client_config"); path != "" {
		loaded, err := drfclient.LoadConfig(path)
		if err != nil {
			return nil, err
		}

		cfg = loaded
	}

	if api := viper.GetString("api"); api != "" {
		cfg.BaseURL = api
	}

	if cfg.BaseURL == "" {
		return nil, ErrAPIEndpointRequired
	}

	dir, err := tokenDir()
	if err != nil {
		return nil, err
	}

	cfg.Storage = drfclient.StorageFile
	cfg.StorageDir = dir
	cfg.SkipTLSVerify = cfg.SkipTLSVerify || viper.GetBool("skip_ssl_validation")

	level := "warn"
	if viper.GetBool("verbose") {
		level = "debug"
		cfg.Debug = true
	}

	logger, err := logx.New(logx.Config{Level: level, Format: viper.GetString("log_format")})
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	cfg.Logger = logx.NewAdapter(logger)

	client, err := drfclient.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return client, nil
}

// parseFilters turns key=value pairs into query parameters. Repeated keys
// are joined with commas, the form django-filter expects for __in lookups.
func parseFilters(filters []string) (drf.Params, error) {
	params := drf.Params{}

	for _, filter := range filters {
		key, value, ok := strings.Cut(filter, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", constants.ErrInvalidFilterFormat, filter)
		}

		if existing, ok := params[key].(string); ok {
			value = existing + "," + value
		}

		params[key] = value
	}

	return params, nil
}

// parseData reads a request body from --data (inline JSON, @file or - for
// stdin) or from --set key=value pairs. Values given with --set are decoded
// as JSON when they parse, otherwise sent as strings.
func parseData(data string, fields []string, stdin io.Reader) (interface{}, error) {
	if data != "" && len(fields) > 0 {
		return nil, ErrDataConflict
	}

	if data != "" {
		raw, err := readData(data, stdin)
		if err != nil {
			return nil, err
		}

		if !json.Valid(raw) {
			return nil, ErrInvalidBody
		}

		return json.RawMessage(raw), nil
	}

	body := map[string]interface{}{}

	for _, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFieldFormat, field)
		}

		var decoded interface{}
		if json.Unmarshal([]byte(value), &decoded) == nil {
			body[key] = decoded
		} else {
			body[key] = value
		}
	}

	return body, nil
}

func readData(data string, stdin io.Reader) ([]byte, error) {
	switch {
	case data == "-":
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}

		return raw, nil
	case strings.HasPrefix(data, "@"):
		// #nosec G304 -- the path is supplied by the invoking user
		raw, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}

		return raw, nil
	default:
		return []byte(data), nil
	}
}

func prompt(in io.Reader, out io.Writer, label string) string {
	_, _ = fmt.Fprint(out, label)

	line, _ := bufio.NewReader(in).ReadString('\n')

	return strings.TrimSpace(line)
}

// writeOutput renders value in the selected output format. Tables are
// built from the JSON form of value.
func writeOutput(out io.Writer, value interface{}) error {
	switch viper.GetString("output") {
	case constants.FormatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", strings.Repeat(" ", defaultJSONIndent))

		return encoder.Encode(value)
	case constants.FormatYAML:
		generic, err := toGeneric(value)
		if err != nil {
			return err
		}

		encoder := yaml.NewEncoder(out)

		err = encoder.Encode(generic)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}

		return encoder.Close()
	default:
		generic, err := toGeneric(value)
		if err != nil {
			return err
		}

		return renderTable(out, generic)
	}
}

// toGeneric round-trips value through JSON so raw messages and structs
// render the same way.
func toGeneric(value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode output: %w", err)
	}

	var generic interface{}

	err = json.Unmarshal(raw, &generic)
	if err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}

	return generic, nil
}

func renderTable(out io.Writer, value interface{}) error {
	switch v := value.(type) {
	case map[string]interface{}:
		return renderObject(out, v)
	case []interface{}:
		return renderRows(out, v)
	default:
		_, err := fmt.Fprintln(out, formatCell(v))

		return err
	}
}

func renderObject(out io.Writer, object map[string]interface{}) error {
	table := tablewriter.NewWriter(out)
	table.Header("Property", "Value")

	for _, key := range sortedKeys(object) {
		_ = table.Append([]string{key, formatCell(object[key])})
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func renderRows(out io.Writer, rows []interface{}) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "No results found")

		return err
	}

	columns := columnsOf(rows)
	if len(columns) == 0 {
		for _, row := range rows {
			_, err := fmt.Fprintln(out, formatCell(row))
			if err != nil {
				return err
			}
		}

		return nil
	}

	headers := make([]interface{}, len(columns))
	for i, column := range columns {
		headers[i] = strings.ToUpper(column)
	}

	table := tablewriter.NewWriter(out)
	table.Header(headers...)

	for _, row := range rows {
		object, _ := row.(map[string]interface{})
		cells := make([]string, len(columns))

		for i, column := range columns {
			value, ok := object[column]
			if !ok {
				cells[i] = NotAvailable

				continue
			}

			cells[i] = formatCell(value)
		}

		_ = table.Append(cells)
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

// columnsOf returns the union of object keys with "id" first.
func columnsOf(rows []interface{}) []string {
	seen := map[string]interface{}{}

	for _, row := range rows {
		object, ok := row.(map[string]interface{})
		if !ok {
			continue
		}

		for key := range object {
			seen[key] = nil
		}
	}

	columns := sortedKeys(seen)

	for i, column := range columns {
		if column == "id" && i > 0 {
			copy(columns[1:i+1], columns[:i])
			columns[0] = "id"

			break
		}
	}

	return columns
}

func sortedKeys(object map[string]interface{}) []string {
	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

func formatCell(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(raw)
	}
}

func valueOrNA(value string) string {
	if value == "" {
		return NotAvailable
	}

	return value
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return NotAvailable
	}

	return t.UTC().Format(time.RFC3339)
}
