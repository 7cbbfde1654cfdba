package api

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/manivault/mvcore/internal/project"
)

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var kindPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

// PluginRequest asks for a new plugin instance
type PluginRequest struct {
	Kind    string   `json:"kind"`
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
}

// ProjectRequest saves the current state as a project
type ProjectRequest struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// PublishRequest publishes an action under a public name
type PublishRequest struct {
	Name string `json:"name"`
}

// ConnectRequest connects a private action to a public one
type ConnectRequest struct {
	PublicActionID string `json:"public_action_id"`
	Recursive      bool   `json:"recursive"`
}

// DisconnectRequest disconnects a private action
type DisconnectRequest struct {
	Recursive bool `json:"recursive"`
}

// ValueRequest sets an action's value
type ValueRequest struct {
	Value interface{} `json:"value"`
}

// LoadRequest runs a loader plugin on a source
type LoadRequest struct {
	Source string `json:"source"`
}

// WriteRequest runs a writer plugin into a destination
type WriteRequest struct {
	Destination string `json:"destination"`
}

// RequestValidator collects field errors of one request body
type RequestValidator struct {
	errors ValidationErrors
}

// NewRequestValidator creates a new request validator
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *RequestValidator) add(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Plugin validates a plugin request
func (v *RequestValidator) Plugin(req PluginRequest) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	if req.Kind == "" {
		v.add("kind", "plugin kind is required")
	} else if !kindPattern.MatchString(req.Kind) {
		v.add("kind", "plugin kind must start with a letter and contain only letters, digits, '.', '_' and '-'")
	}
	v.ids("inputs", req.Inputs)
	v.ids("outputs", req.Outputs)

	return v.errors
}

func (v *RequestValidator) ids(field string, ids []string) {
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			v.add(fmt.Sprintf("%s[%d]", field, i), "dataset id is empty")
		}
	}
}

// Project validates a project request
func (v *RequestValidator) Project(req ProjectRequest) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	if req.Name == "" {
		v.add("name", "project name is required")
	} else if err := project.ValidateName(req.Name); err != nil {
		v.add("name", "project name must be 1-64 letters, digits, '.', '_' or '-' and start with a letter or digit")
	}
	if len(req.Title) > 200 {
		v.add("title", "title must be less than 200 characters")
	}

	return v.errors
}

// Publish validates a publish request
func (v *RequestValidator) Publish(req PublishRequest) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	if strings.TrimSpace(req.Name) == "" {
		v.add("name", "public name is required")
	}
	if len(req.Name) > 100 {
		v.add("name", "public name must be less than 100 characters")
	}

	return v.errors
}

// Connect validates a connect request
func (v *RequestValidator) Connect(req ConnectRequest) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	if req.PublicActionID == "" {
		v.add("public_action_id", "public action id is required")
	}

	return v.errors
}

// Load validates a load request
func (v *RequestValidator) Load(req LoadRequest) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	if strings.TrimSpace(req.Source) == "" {
		v.add("source", "source is required")
	}

	return v.errors
}

// Write validates a write request
func (v *RequestValidator) Write(req WriteRequest) ValidationErrors {
	v.errors = make(ValidationErrors, 0)

	if strings.TrimSpace(req.Destination) == "" {
		v.add("destination", "destination is required")
	}

	return v.errors
}
