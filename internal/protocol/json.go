package protocol

import (
	"encoding/json"
	"errors"
)

// errValidation is wrapped by Validate() methods to mark a failure as
// belonging to the "validation" error kind from spec §7; callers that
// want to distinguish it from other errors can errors.Is against it.
var errValidation = errors.New("validation failed")

// ErrValidation is the exported sentinel for errors.Is checks against
// construction-invariant failures raised by Request/Response/Target.
var ErrValidation = errValidation

func jsonMarshal(v any) ([]byte, error)        { return json.Marshal(v) }
func jsonUnmarshal(data []byte, v any) error   { return json.Unmarshal(data, v) }
