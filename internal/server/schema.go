package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type schemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	build    *jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		envelope, err := jsonschema.CompileString("ws_envelope", wsEnvelopeSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		build, err := jsonschema.CompileString("build_request", buildRequestSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.envelope = envelope
		schemas.build = build
	})
	return schemas.initErr
}

// validateEnvelope checks an inbound channel frame. The payload under
// "data" is validated separately so a bad build request can still be
// answered with the frame's request_id.
func validateEnvelope(raw []byte) error {
	if err := initSchemas(); err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return shapeErrorFrom(schemas.envelope.Validate(payload))
}

// validateBuildRequest checks the shape of a build request document.
// Semantic checks (a blank user_query) are left to the pipeline.
func validateBuildRequest(raw []byte) error {
	if err := initSchemas(); err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return shapeErrorFrom(schemas.build.Validate(payload))
}

// ShapeError is a document that failed schema validation. Error names
// only the offending instance location and reason, so it is safe to send
// to clients; Cause keeps the full validator report for server logs.
type ShapeError struct {
	Location string
	Reason   string
	Cause    error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Location, e.Reason)
}

func (e *ShapeError) Unwrap() error { return e.Cause }

// shapeErrorFrom reduces a validator failure to its first leaf cause.
func shapeErrorFrom(err error) error {
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ShapeError{Location: "/", Reason: "does not match the expected shape", Cause: err}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := leaf.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return &ShapeError{Location: loc, Reason: leaf.Message, Cause: err}
}

// shapeDetail returns the full validator report behind err for logging.
func shapeDetail(err error) string {
	var se *ShapeError
	if errors.As(err, &se) && se.Cause != nil {
		return se.Cause.Error()
	}
	return err.Error()
}

const wsEnvelopeSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "enum": ["build_prompt", "ping"] },
    "request_id": { "type": ["string", "number"] },
    "data": {}
  },
  "additionalProperties": true
}`

const buildRequestSchema = `{
  "type": "object",
  "required": ["user_query"],
  "properties": {
    "session_id": { "type": ["string", "null"] },
    "user_query": { "type": "string" },
    "system_resources": { "type": ["string", "null"] },
    "stream": { "type": "boolean" }
  },
  "additionalProperties": true
}`
