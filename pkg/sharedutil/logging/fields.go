// Package logging provides a small fluent builder for the structured
// fields every component attaches to its logrus entries.
package logging

import "time"

// Fields is a logrus.Fields-compatible map built up with a fluent API so
// call sites read as a sentence instead of a map literal.
type Fields map[string]interface{}

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

// Component tags the field set with the package/subsystem emitting the log line.
func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

// Operation tags the field set with the action being performed.
func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

// Resource tags the field set with the kind and name of the thing being
// acted on. An empty name is omitted so partition-less log lines stay terse.
func (f Fields) Resource(kind, name string) Fields {
	f["resource_type"] = kind
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

// Duration records an elapsed time in whole milliseconds.
func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Error attaches an error's message. A nil error leaves the field unset so
// callers can unconditionally chain .Error(err) without a nil check.
func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}
