package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ashureev/shsh-exec/internal/domain"
)

// ParseRequest decodes a request body. Besides the documented
// {"executionData": {...}, "pythonShellId": ...} form it accepts the flat
// {"code": ...} / {"command": ...} form, with an optional top-level
// pythonShellId.
func ParseRequest(body []byte) (*domain.CommandRequest, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, malformed("empty request body")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, malformed("request body must be a JSON object: %v", err)
	}

	req := &domain.CommandRequest{}
	if raw, ok := fields["pythonShellId"]; ok {
		if err := json.Unmarshal(raw, &req.PythonShellID); err != nil {
			return nil, malformed("pythonShellId must be a string or null")
		}
	}

	data := fields
	if raw, ok := fields["executionData"]; ok {
		data = nil
		if err := json.Unmarshal(raw, &data); err != nil || data == nil {
			return nil, malformed("executionData must be an object")
		}
	}

	var err error
	if req.ExecutionData.Code, err = optionalString(data, "code"); err != nil {
		return nil, err
	}
	if req.ExecutionData.Command, err = optionalString(data, "command"); err != nil {
		return nil, err
	}

	if err := Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks that exactly one of code or command is present.
func Validate(req *domain.CommandRequest) error {
	if req == nil {
		return malformed("request is empty")
	}
	hasCode := req.ExecutionData.Code != nil
	hasCommand := req.ExecutionData.Command != nil
	if hasCode == hasCommand {
		return malformed("executionData must contain exactly one of code or command")
	}
	return nil
}

func optionalString(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, malformed("%s must be a string", key)
	}
	return v, nil
}

func malformed(format string, args ...any) error {
	return domain.NewError(domain.KindMalformedRequest, "malformed request: %s", fmt.Sprintf(format, args...))
}
