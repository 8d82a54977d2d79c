package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"autopause/internal/trigger"
)

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig checks c against the embedded JSON Schema and the
// cross-field rules the schema cannot express.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateSchema(c)...)

	if _, err := trigger.ParseKey(c.Detection.TriggerKey); err != nil {
		errs = append(errs, ValidationError{Field: "detection.trigger_key", Message: err.Error()})
	}

	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		if c.Logging.FilePath == "" {
			errs = append(errs, ValidationError{Field: "logging.file_path", Message: "required when output writes to a file"})
		}
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, ValidationError{Field: "journal.path", Message: "required when the journal is enabled"})
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, ValidationError{Field: "metrics.listen", Message: fmt.Sprintf("invalid address: %v", err)})
		}
	}

	if c.MQTT.Enabled {
		if !isValidBrokerURL(c.MQTT.Broker) {
			errs = append(errs, ValidationError{Field: "mqtt.broker", Message: fmt.Sprintf("invalid broker URL %q", c.MQTT.Broker)})
		}
		if c.MQTT.ClientID == "" {
			errs = append(errs, ValidationError{Field: "mqtt.client_id", Message: "required when mqtt is enabled"})
		}
		if strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
			errs = append(errs, ValidationError{Field: "mqtt.topic_prefix", Message: "required when mqtt is enabled"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// validateSchema round-trips c through JSON and validates the document.
func validateSchema(c *Config) ValidationErrors {
	schema, err := loadSchema()
	if err != nil {
		return ValidationErrors{{Field: "schema", Message: err.Error()}}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return ValidationErrors{{Field: "schema", Message: fmt.Sprintf("encode: %v", err)}}
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return ValidationErrors{{Field: "schema", Message: fmt.Sprintf("decode: %v", err)}}
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return ValidationErrors{{Field: "schema", Message: err.Error()}}
	}

	var errs ValidationErrors
	for _, unit := range verr.BasicOutput().Errors {
		if unit.Error == "" || unit.InstanceLocation == "" {
			continue
		}
		errs = append(errs, ValidationError{
			Field:   jsonPointerToField(unit.InstanceLocation),
			Message: unit.Error,
		})
	}
	if len(errs) == 0 {
		errs = append(errs, ValidationError{Field: "schema", Message: verr.Error()})
	}
	return errs
}

// jsonPointerToField turns "/detection/poll_interval_ms" into
// "detection.poll_interval_ms".
func jsonPointerToField(ptr string) string {
	return strings.ReplaceAll(strings.TrimPrefix(ptr, "/"), "/", ".")
}

func isValidBrokerURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
		return true
	}
	return false
}
