package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dose3d/drf-crud-client/internal/constants"
	"github.com/dose3d/drf-crud-client/pkg/drf"
	"github.com/dose3d/drf-crud-client/pkg/drfclient"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ErrUploadFailed wraps the user facing message of a failed upload.
var ErrUploadFailed = errors.New("upload failed")

// writeFlags are shared by create, update and action.
type writeFlags struct {
	data      string
	fields    []string
	method    string
	action    string
	behaviour string
	keepLists bool
}

func (f *writeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "JSON request body, @file to read a file or - for stdin")
	cmd.Flags().StringArrayVarP(&f.fields, "set", "s", nil, "body field as key=value (repeatable)")
	cmd.Flags().StringVarP(&f.method, "method", "X", "", "HTTP method override")
	cmd.Flags().StringVar(&f.behaviour, "cache", string(drf.CacheBehaviourDefault), "cache behaviour (default, set, invalidate, none)")
	cmd.Flags().BoolVar(&f.keepLists, "keep-lists", false, "do not invalidate cached lists of the resource")
}

func (f *writeFlags) options(resource string, pk interface{}) (drf.MutationOptions, error) {
	behaviour, err := drf.ParseCacheBehaviour(f.behaviour)
	if err != nil {
		return drf.MutationOptions{}, err
	}

	return drf.MutationOptions{
		Resource:       resource,
		PrimaryKey:     pk,
		Action:         f.action,
		Method:         f.method,
		CacheBehaviour: behaviour,
		KeepLists:      f.keepLists,
	}, nil
}

// fieldErrorForm collects validation messages reported by the form bridge.
type fieldErrorForm struct {
	errors map[string]string
}

func newFieldErrorForm() *fieldErrorForm {
	return &fieldErrorForm{errors: map[string]string{}}
}

func (f *fieldErrorForm) SetFieldError(field, message string) { f.errors[field] = message }
func (f *fieldErrorForm) ClearErrors()                        { f.errors = map[string]string{} }
func (f *fieldErrorForm) Reset(json.RawMessage)               {}

func (f *fieldErrorForm) render(out io.Writer) error {
	table := tablewriter.NewWriter(out)
	table.Header("Field", "Error")

	object := make(map[string]interface{}, len(f.errors))
	for field := range f.errors {
		object[field] = nil
	}

	for _, field := range sortedKeys(object) {
		_ = table.Append([]string{field, f.errors[field]})
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

func requireResource(args []string) error {
	if len(args) == 0 || args[0] == "" {
		return constants.ErrResourceRequired
	}

	return nil
}

func requireResourceAndKey(args []string) error {
	err := requireResource(args)
	if err != nil {
		return err
	}

	if len(args) < 2 || args[1] == "" {
		return constants.ErrPrimaryKeyRequired
	}

	return nil
}

// submit sends body through a form bridge and prints either the response
// or the field errors.
func submit(cmd *cobra.Command, client *drfclient.Client, opts drf.MutationOptions, flags *writeFlags) error {
	body, err := parseData(flags.data, flags.fields, cmd.InOrStdin())
	if err != nil {
		return err
	}

	form := newFieldErrorForm()
	bridge := client.FormBridge(client.Mutations().Mutation(opts), form)

	result, err := bridge.Submit(cmd.Context(), body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if !result.OK() {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), result.Summary)

		renderErr := form.render(cmd.ErrOrStderr())
		if renderErr != nil {
			return renderErr
		}

		return ErrValidationFailed
	}

	if len(result.Response) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "OK")

		return nil
	}

	return writeOutput(cmd.OutOrStdout(), result.Response)
}

// NewGetCommand creates the get command.
func NewGetCommand() *cobra.Command {
	var action string

	cmd := &cobra.Command{
		Use:   "get RESOURCE PK",
		Short: "Get one item",
		Long:  "Read one item of a resource, or one detail action of it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := requireResourceAndKey(args)
			if err != nil {
				return err
			}

			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			item, err := drfclient.GetEntity[interface{}](cmd.Context(), client, args[0], args[1],
				drfclient.WithAction(action))
			if err != nil {
				return fmt.Errorf("failed to get %s %s: %w", args[0], args[1], err)
			}

			return writeOutput(cmd.OutOrStdout(), item)
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "detail action to read")

	return cmd
}

// NewListCommand creates the list command.
//
//nolint:funlen
func NewListCommand() *cobra.Command {
	var (
		page     int
		pageSize int
		filters  []string
		action   string
		all      bool
		flat     bool
	)

	cmd := &cobra.Command{
		Use:   "list RESOURCE",
		Short: "List items",
		Long:  "List one page of a resource, or every page with --all",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := requireResource(args)
			if err != nil {
				return err
			}

			params, err := parseFilters(filters)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("page-size") && viper.GetInt("page_size") > 0 {
				pageSize = viper.GetInt("page_size")
			}

			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			resource := args[0]
			opts := []drfclient.ReadOption{drfclient.WithAction(action)}

			if flat {
				items, err := drfclient.GetList[interface{}](cmd.Context(), client, resource, params, opts...)
				if err != nil {
					return fmt.Errorf("failed to list %s: %w", resource, err)
				}

				return writeOutput(cmd.OutOrStdout(), items)
			}

			if all {
				items, err := listAll(cmd, client, resource, pageSize, params, opts)
				if err != nil {
					return err
				}

				return writeOutput(cmd.OutOrStdout(), items)
			}

			result, err := drfclient.GetPage[interface{}](cmd.Context(), client, resource, pageSize, page, params, opts...)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", resource, err)
			}

			pagination := client.Pagination(pageSize, drf.WithTotalCount(result.Count), drf.WithInitialPage(page))
			drf.Observe(pagination, result)

			output := viper.GetString("output")
			if output == constants.FormatJSON || output == constants.FormatYAML {
				return writeOutput(cmd.OutOrStdout(), result)
			}

			err = writeOutput(cmd.OutOrStdout(), result.Results)
			if err != nil {
				return err
			}

			state := pagination.State()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Page %d of %d (%d results)\n", state.Page, state.PageCount, state.TotalCount)

			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", constants.DefaultPage, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", constants.DefaultPageSize, "items per page")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter as key=value (repeatable)")
	cmd.Flags().StringVar(&action, "action", "", "list action to read")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every page")
	cmd.Flags().BoolVar(&flat, "no-paginate", false, "the endpoint returns a plain array")

	return cmd
}

// listAll walks the pages with a pagination controller until the last one.
func listAll(cmd *cobra.Command, client *drfclient.Client, resource string, pageSize int, params drf.Params, opts []drfclient.ReadOption) ([]interface{}, error) {
	pagination := client.Pagination(pageSize)

	var items []interface{}

	for {
		result, err := drfclient.GetPaginated[interface{}](cmd.Context(), client, resource, pagination, params, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s page %d: %w", resource, pagination.Page(), err)
		}

		items = append(items, result.Results...)

		if pagination.Page() >= pagination.PageCount() {
			return items, nil
		}

		pagination.GoNext()
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand() *cobra.Command {
	flags := &writeFlags{}

	cmd := &cobra.Command{
		Use:   "create RESOURCE",
		Short: "Create an item",
		Long:  "POST a new item to a resource. Field errors are reported per field.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := requireResource(args)
			if err != nil {
				return err
			}

			opts, err := flags.options(args[0], nil)
			if err != nil {
				return err
			}

			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			return submit(cmd, client, opts, flags)
		},
	}

	flags.register(cmd)

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand() *cobra.Command {
	flags := &writeFlags{}

	cmd := &cobra.Command{
		Use:   "update RESOURCE PK",
		Short: "Update an item",
		Long:  "PATCH an existing item, or PUT it with --method PUT",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := requireResourceAndKey(args)
			if err != nil {
				return err
			}

			opts, err := flags.options(args[0], args[1])
			if err != nil {
				return err
			}

			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			return submit(cmd, client, opts, flags)
		},
	}

	flags.register(cmd)

	return cmd
}

// NewActionCommand creates the action command.
func NewActionCommand() *cobra.Command {
	flags := &writeFlags{}

	cmd := &cobra.Command{
		Use:   "action RESOURCE [PK] ACTION",
		Short: "Call a custom action",
		Long:  "POST to a list or detail action of a resource",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := requireResource(args)
			if err != nil {
				return err
			}

			var pk interface{}

			flags.action = args[len(args)-1]
			if len(args) == 3 {
				pk = args[1]
			}

			if flags.method == "" {
				flags.method = http.MethodPost
			}

			opts, err := flags.options(args[0], pk)
			if err != nil {
				return err
			}

			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			return submit(cmd, client, opts, flags)
		},
	}

	flags.register(cmd)

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand() *cobra.Command {
	var behaviour string

	cmd := &cobra.Command{
		Use:   "delete RESOURCE PK",
		Short: "Delete an item",
		Long:  "DELETE one item of a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := requireResourceAndKey(args)
			if err != nil {
				return err
			}

			cacheBehaviour, err := drf.ParseCacheBehaviour(behaviour)
			if err != nil {
				return err
			}

			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			mutation := client.Mutations().Delete(drf.MutationOptions{
				Resource:       args[0],
				PrimaryKey:     args[1],
				CacheBehaviour: cacheBehaviour,
			})

			_, err = mutation.MutateAsync(cmd.Context(), nil)
			if err != nil {
				return fmt.Errorf("failed to delete %s %s: %w", args[0], args[1], err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", args[0], args[1])

			return nil
		},
	}

	cmd.Flags().StringVar(&behaviour, "cache", string(drf.CacheBehaviourDefault), "cache behaviour (default, invalidate, none)")

	return cmd
}

// NewUploadCommand creates the upload command.
func NewUploadCommand() *cobra.Command {
	var (
		pk     string
		action string
		method string
	)

	cmd := &cobra.Command{
		Use:   "upload RESOURCE FILE",
		Short: "Upload a file",
		Long:  "Send a file as multipart form data in the \"file\" field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := requireResource(args)
			if err != nil {
				return err
			}

			path := args[1]

			// #nosec G304 -- the path is supplied by the invoking user
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}

			defer func() { _ = file.Close() }()

			client, err := newClient(cmd.Context())
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			opts := drf.MutationOptions{Resource: args[0], Action: action, Method: method}
			if pk != "" {
				opts.PrimaryKey = pk
			}

			resp, err := client.Mutations().Mutation(opts).Upload(cmd.Context(), filepath.Base(path), file)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrUploadFailed, drf.UploadErrorMessage(err, drf.DefaultMessages()))
			}

			if len(resp) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s\n", filepath.Base(path))

				return nil
			}

			return writeOutput(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&pk, "pk", "", "primary key of the item receiving the file")
	cmd.Flags().StringVar(&action, "action", "", "action receiving the file")
	cmd.Flags().StringVarP(&method, "method", "X", "", "HTTP method override")

	return cmd
}
