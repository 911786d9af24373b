package openapi

import "fmt"

// ParseError is the synthesizer's typed failure. A single ParseError
// aborts the whole document: partial tool sets are never produced, per
// spec.md §4.1's all-or-nothing determinism requirement.
type ParseError struct {
	Reason string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func newParseError(reason, detail string) *ParseError {
	return &ParseError{Reason: reason, Detail: detail}
}

func errMissingOperationID(path, method string) *ParseError {
	return newParseError("operationId is required", fmt.Sprintf("%s %s", method, path))
}

func errMultipleServers(n int) *ParseError {
	return newParseError("multiple servers are not supported", fmt.Sprintf("found %d servers", n))
}

func errUnsupportedParameterLocation(loc string) *ParseError {
	return newParseError("unsupported parameter location", loc)
}

func errMissingSchema(where string) *ParseError {
	return newParseError("missing schema", where)
}

func errInvalidReference(ref string) *ParseError {
	return newParseError("invalid reference", ref)
}

func errMissingReference(ref string) *ParseError {
	return newParseError("unresolved reference", ref)
}
