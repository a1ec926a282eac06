package script

import (
	"context"
	"encoding/json"

	"github.com/dop251/goja"

	"rpcdemo/internal/remote"
)

// Script is a loaded JavaScript function
type Script struct {
	Name     string       // file name without extension
	Function string       // remote function name from the directive
	Kind     remote.Kind  // query or command
	Program  *goja.Program
}

// Caller invokes registered remote functions on behalf of scripts
type Caller interface {
	Call(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error)
}

// CallRequest is one element of remote.batchCall
type CallRequest struct {
	Name   string      `json:"name"`
	Params interface{} `json:"params"`
}
