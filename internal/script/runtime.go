package script

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// Runtime wraps a goja VM with the script bindings. A Runtime serves one execution.
type Runtime struct {
	vm     *goja.Runtime
	ctx    context.Context
	logger zerolog.Logger
}

// NewRuntime creates a new Runtime whose remote calls run under ctx
func NewRuntime(ctx context.Context, caller Caller, logger zerolog.Logger) *Runtime {
	r := &Runtime{
		vm:     goja.New(),
		ctx:    ctx,
		logger: logger,
	}
	r.setupConsole()
	r.setupRemote(caller)
	return r
}

// setupConsole routes console.* to the logger
func (r *Runtime) setupConsole() {
	console := r.vm.NewObject()

	bind := func(name string, event func() *zerolog.Event) {
		console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.Export()
			}
			event().Msgf("[script] %v", args)
			return goja.Undefined()
		})
	}
	bind("log", r.logger.Info)
	bind("info", r.logger.Info)
	bind("warn", r.logger.Warn)
	bind("error", r.logger.Error)
	bind("debug", r.logger.Debug)

	r.vm.Set("console", console)
}

// setupRemote creates the remote object passed to execute
func (r *Runtime) setupRemote(caller Caller) {
	remoteObj := r.vm.NewObject()

	remoteObj.Set("call", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("remote.call requires a function name"))
		}
		name := call.Arguments[0].String()

		result, err := r.invoke(caller, name, call.Argument(1).Export())
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.vm.ToValue(result)
	})

	remoteObj.Set("batchCall", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(r.vm.ToValue("remote.batchCall requires an array of calls"))
		}
		items, ok := call.Arguments[0].Export().([]interface{})
		if !ok {
			panic(r.vm.ToValue("remote.batchCall requires an array"))
		}

		calls := make([]CallRequest, 0, len(items))
		for _, item := range items {
			m, ok := item.(map[string]interface{})
			if !ok {
				panic(r.vm.ToValue("each call must be an object with name and params"))
			}
			name, _ := m["name"].(string)
			calls = append(calls, CallRequest{Name: name, Params: m["params"]})
		}

		results, err := r.invokeAll(caller, calls)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.vm.ToValue(results)
	})

	r.vm.Set("remote", remoteObj)
}

// invoke runs one remote call and decodes its result into plain Go values
func (r *Runtime) invoke(caller Caller, name string, params interface{}) (interface{}, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params for %s: %w", name, err)
	}

	data, err := caller.Call(r.ctx, name, raw)
	if err != nil {
		return nil, err
	}

	var result interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result of %s: %w", name, err)
	}
	return result, nil
}

// invokeAll runs calls concurrently. The first failure fails the whole call.
func (r *Runtime) invokeAll(caller Caller, calls []CallRequest) ([]interface{}, error) {
	results := make([]interface{}, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c CallRequest) {
			defer wg.Done()
			results[i], errs[i] = r.invoke(caller, c.Name, c.Params)
		}(i, c)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// Run loads program and calls its execute function with params
func (r *Runtime) Run(program *goja.Program, params interface{}) (interface{}, error) {
	if _, err := r.vm.RunProgram(program); err != nil {
		return nil, err
	}

	execute, ok := goja.AssertFunction(r.vm.Get("execute"))
	if !ok {
		return nil, fmt.Errorf("execute function not defined")
	}

	result, err := execute(goja.Undefined(), r.vm.ToValue(params), r.vm.Get("remote"))
	if err != nil {
		return nil, err
	}
	return result.Export(), nil
}

// Interrupt stops a running script
func (r *Runtime) Interrupt(reason interface{}) {
	r.vm.Interrupt(reason)
}
