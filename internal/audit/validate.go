/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package audit

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the event against the storage boundary rules.
func (e *Event) Validate() error {
	if e == nil {
		return &ValidationError{Reason: "event is nil"}
	}
	err := getValidator().Struct(e)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}

	reasons := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		reasons = append(reasons, describe(fe))
	}
	return &ValidationError{
		Field:  fieldPath(fieldErrs[0]),
		Reason: strings.Join(reasons, "; "),
	}
}

// fieldPath strips the struct name from the namespace: "Event.user_id"
// becomes "user_id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	case "max":
		return fmt.Sprintf("%s is longer than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// ParseEvent decodes an event from external JSON. A malformed document or
// timestamp is reported as a *ValidationError. The event is validated.
func ParseEvent(data []byte) (*Event, error) {
	var probe struct {
		Timestamp *string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if probe.Timestamp != nil && *probe.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339Nano, *probe.Timestamp); err != nil {
			return nil, &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("malformed timestamp %q", *probe.Timestamp)}
		}
	}
	if probe.Timestamp != nil && *probe.Timestamp == "" {
		data = clearTimestamp(data)
	}

	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed event: %v", err)}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// clearTimestamp drops an empty "timestamp" member so the store assigns one.
func clearTimestamp(data []byte) []byte {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return data
	}
	delete(m, "timestamp")
	out, err := json.Marshal(m)
	if err != nil {
		return data
	}
	return out
}
