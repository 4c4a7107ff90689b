package drf

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dose3d/drf-crud-client/internal/constants"
)

// NonFieldErrorsKey is the field DRF uses for object-level messages.
const NonFieldErrorsKey = "non_field_errors"

// Messages are the templates used to summarize failures. Templates with a
// %s verb receive the detail or error text.
type Messages struct {
	Server         string
	ServerUnknown  string
	NoConnection   string
	BrowserUnknown string
	Unknown        string
}

// DefaultMessages returns the English message set.
func DefaultMessages() Messages {
	return Messages{
		Server:         "Server returns error: %s",
		ServerUnknown:  "Server returns undefined error, please look to backend logs",
		NoConnection:   "Connection error",
		BrowserUnknown: "Another browser error: %s",
		Unknown:        "Another error: %s",
	}
}

// FormatError renders err as a single human-readable line.
func FormatError(err error, messages Messages) string {
	if err == nil {
		return ""
	}

	drfErr, ok := AsError(err)
	if !ok {
		return fmt.Sprintf(messages.BrowserUnknown, err.Error())
	}

	switch drfErr.Kind {
	case KindConnectivity:
		return messages.NoConnection
	case KindValidation, KindServer, KindAuthExpired:
		if !drfErr.IsJSON() {
			return messages.ServerUnknown
		}

		return fmt.Sprintf(messages.Server, summaryDetail(drfErr))
	case KindClient:
		cause := drfErr.Error()
		if drfErr.Err != nil {
			cause = drfErr.Err.Error()
		}

		return fmt.Sprintf(messages.BrowserUnknown, cause)
	default:
		return fmt.Sprintf(messages.Unknown, drfErr.Error())
	}
}

// summaryDetail prefers detail, then non-field errors, then field messages.
func summaryDetail(e *Error) string {
	if e.Detail != "" {
		return e.Detail
	}

	if msgs := e.Fields[NonFieldErrorsKey]; len(msgs) > 0 {
		return strings.Join(msgs, " ")
	}

	if len(e.Fields) > 0 {
		return e.fieldSummary()
	}

	return fmt.Sprintf("status %d", e.StatusCode)
}

// UploadErrorMessage returns the messages of the upload field joined by
// newlines, or the formatted error when there are none.
func UploadErrorMessage(err error, messages Messages) string {
	if drfErr, ok := AsError(err); ok {
		if msgs := drfErr.Fields[constants.UploadFieldName]; len(msgs) > 0 {
			return strings.Join(msgs, "\n")
		}
	}

	return FormatError(err, messages)
}

// Form is the form state manager errors are loaded into.
type Form interface {
	SetFieldError(field, message string)
	ClearErrors()
	Reset(values json.RawMessage)
}

// Mutator is the write the bridge submits through.
type Mutator interface {
	MutateAsync(ctx context.Context, data interface{}) (json.RawMessage, error)
}

// ErrorParser extracts field messages from a failure.
type ErrorParser func(err error) (map[string][]string, bool)

// ValidationFields is the default ErrorParser.
func ValidationFields(err error) (map[string][]string, bool) {
	drfErr, ok := AsError(err)
	if !ok || drfErr.Kind != KindValidation {
		return nil, false
	}

	return drfErr.Fields, true
}

type resetMode int

const (
	resetNone resetMode = iota
	resetResponse
	resetDerived
)

// ResetPolicy decides how form values are reset after a success.
type ResetPolicy struct {
	mode   resetMode
	derive func(json.RawMessage) (json.RawMessage, error)
}

// ResetNone leaves form values alone.
func ResetNone() ResetPolicy {
	return ResetPolicy{mode: resetNone}
}

// ResetToResponse resets the form to the response verbatim.
func ResetToResponse() ResetPolicy {
	return ResetPolicy{mode: resetResponse}
}

// ResetWith resets the form to values derived from the response.
func ResetWith(derive func(json.RawMessage) (json.RawMessage, error)) ResetPolicy {
	return ResetPolicy{mode: resetDerived, derive: derive}
}

// SubmitResult is the outcome of one submission.
type SubmitResult struct {
	Response    json.RawMessage
	FieldErrors map[string]string
	Summary     string
}

// OK reports whether the submission succeeded.
func (r *SubmitResult) OK() bool {
	return r.Summary == "" && len(r.FieldErrors) == 0
}

// FormBridge adapts mutation failures to a Form.
type FormBridge struct {
	mutator  Mutator
	form     Form
	reset    ResetPolicy
	parser   ErrorParser
	messages Messages

	mu          sync.Mutex
	fieldErrors map[string]string
	summary     string
}

// FormBridgeOption configures a FormBridge.
type FormBridgeOption func(*FormBridge)

// WithResetPolicy sets the post-success reset policy.
func WithResetPolicy(policy ResetPolicy) FormBridgeOption {
	return func(b *FormBridge) { b.reset = policy }
}

// WithErrorParser replaces the validation field parser.
func WithErrorParser(parser ErrorParser) FormBridgeOption {
	return func(b *FormBridge) { b.parser = parser }
}

// WithMessages replaces the summary templates.
func WithMessages(messages Messages) FormBridgeOption {
	return func(b *FormBridge) { b.messages = messages }
}

// NewFormBridge creates a bridge submitting through mutator into form.
// form may be nil when only FieldErrors and SummaryError are consumed.
func NewFormBridge(mutator Mutator, form Form, opts ...FormBridgeOption) *FormBridge {
	b := &FormBridge{
		mutator:     mutator,
		form:        form,
		reset:       ResetNone(),
		parser:      ValidationFields,
		messages:    DefaultMessages(),
		fieldErrors: map[string]string{},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Submit performs the mutation. Validation failures are loaded into the
// form and reported through the result only. Every other failure is also
// returned as an error.
func (b *FormBridge) Submit(ctx context.Context, data interface{}) (*SubmitResult, error) {
	resp, err := b.mutator.MutateAsync(ctx, data)

	if err == nil {
		b.mu.Lock()
		b.fieldErrors = map[string]string{}
		b.summary = ""
		b.mu.Unlock()

		if b.form != nil {
			b.form.ClearErrors()
		}

		resetErr := b.applyReset(resp)
		if resetErr != nil {
			return &SubmitResult{Response: resp}, NewClientError(resetErr)
		}

		return &SubmitResult{Response: resp}, nil
	}

	if IsCancelled(err) {
		return &SubmitResult{}, err
	}

	result := &SubmitResult{
		FieldErrors: map[string]string{},
		Summary:     FormatError(err, b.messages),
	}

	fields, parsed := b.parser(err)

	if b.form != nil {
		b.form.ClearErrors()
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		msg := strings.Join(fields[name], "\n")
		result.FieldErrors[name] = msg

		if b.form != nil {
			b.form.SetFieldError(name, msg)
		}
	}

	b.mu.Lock()
	b.fieldErrors = copyErrors(result.FieldErrors)
	b.summary = result.Summary
	b.mu.Unlock()

	if parsed && IsValidation(err) {
		return result, nil
	}

	return result, err
}

// FieldErrors returns the field messages of the latest failure.
func (b *FormBridge) FieldErrors() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return copyErrors(b.fieldErrors)
}

// SummaryError returns the summary of the latest failure, empty after a
// success.
func (b *FormBridge) SummaryError() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.summary
}

func (b *FormBridge) applyReset(resp json.RawMessage) error {
	if b.form == nil {
		return nil
	}

	switch b.reset.mode {
	case resetResponse:
		b.form.Reset(resp)
	case resetDerived:
		values, err := b.reset.derive(resp)
		if err != nil {
			return fmt.Errorf("failed to derive form values: %w", err)
		}

		b.form.Reset(values)
	case resetNone:
	}

	return nil
}

func copyErrors(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}

	return dst
}
