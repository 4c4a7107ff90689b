package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dose3d/drf-crud-client/pkg/drf"
)

const (
	detailKey         = "detail"
	nonFieldErrorsKey = "non_field_errors"
)

// ClassifyResponse turns a non-2xx answer into a *drf.Error. A 4xx JSON body
// shaped as a field to messages map is a validation failure; anything else
// is a server failure carrying the "detail" member when there is one.
func ClassifyResponse(status int, contentType string, body []byte) *drf.Error {
	drfErr := &drf.Error{
		Kind:        drf.KindServer,
		StatusCode:  status,
		ContentType: contentType,
		Body:        body,
	}

	if !drfErr.IsJSON() {
		return drfErr
	}

	fields, detail, ok := parseValidation(body)
	if !ok {
		return drfErr
	}

	drfErr.Detail = detail

	if len(fields) > 0 {
		drfErr.Fields = fields

		if status >= http.StatusBadRequest && status < http.StatusInternalServerError {
			drfErr.Kind = drf.KindValidation
		}
	}

	return drfErr
}

// parseValidation reads a DRF error body: an object of field messages with an
// optional detail string, or a bare list of non-field messages.
func parseValidation(body []byte) (map[string][]string, string, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, "", false
	}

	if trimmed[0] == '[' {
		messages, ok := messageList(trimmed)
		if !ok {
			return nil, "", false
		}

		return map[string][]string{nonFieldErrorsKey: messages}, "", true
	}

	var object map[string]json.RawMessage

	err := json.Unmarshal(trimmed, &object)
	if err != nil {
		return nil, "", false
	}

	var detail string

	fields := make(map[string][]string)

	for key, raw := range object {
		if key == detailKey {
			_ = json.Unmarshal(raw, &detail)

			continue
		}

		messages, ok := messageList(raw)
		if ok {
			fields[key] = messages
		}
	}

	return fields, detail, true
}

func messageList(raw json.RawMessage) ([]string, bool) {
	var items []interface{}

	err := json.Unmarshal(raw, &items)
	if err != nil {
		return nil, false
	}

	messages := make([]string, 0, len(items))

	for _, item := range items {
		switch v := item.(type) {
		case string:
			messages = append(messages, v)
		case map[string]interface{}:
			data, _ := json.Marshal(v)
			messages = append(messages, string(data))
		default:
			messages = append(messages, strings.TrimSpace(fmt.Sprint(v)))
		}
	}

	return messages, true
}
