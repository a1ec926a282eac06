package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"rpcdemo/internal/remote"
)

// DefaultExecutionTimeout is the default timeout for script execution
const DefaultExecutionTimeout = 10 * time.Second

// directiveRegex matches the @query and @command directives in comments
var directiveRegex = regexp.MustCompile(`(?m)^//\s*@(query|command)\s+(\S+)`)

// Manager loads scripts and exposes them as remote functions
type Manager struct {
	scripts map[string]*Script // function -> script
	timeout time.Duration
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// NewManager creates a new Manager
func NewManager(timeout time.Duration, logger zerolog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	return &Manager{
		scripts: make(map[string]*Script),
		timeout: timeout,
		logger:  logger.With().Str("component", "script-manager").Logger(),
	}
}

// LoadFromDirectory loads all .js scripts from a directory. A missing directory is not an error.
func (m *Manager) LoadFromDirectory(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		m.logger.Warn().Str("directory", dir).Msg("scripts directory does not exist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat scripts directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scripts path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read scripts directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err == nil {
			err = m.Load(strings.TrimSuffix(entry.Name(), ".js"), string(content))
		}
		if err != nil {
			m.logger.Error().
				Err(err).
				Str("file", entry.Name()).
				Msg("failed to load script")
			continue
		}
		loaded++
	}

	m.logger.Info().
		Int("loaded", loaded).
		Str("directory", dir).
		Msg("scripts loaded")

	return nil
}

// Load compiles source and adds it under the function named by its directive
func (m *Manager) Load(name, source string) error {
	matches := directiveRegex.FindStringSubmatch(source)
	if len(matches) < 3 {
		return fmt.Errorf("script %s is missing a @query or @command directive", name)
	}
	kind, function := remote.Kind(matches[1]), matches[2]

	program, err := goja.Compile(name+".js", source, false)
	if err != nil {
		return fmt.Errorf("failed to compile script %s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.scripts[function]; exists {
		return fmt.Errorf("duplicate function: %s", function)
	}
	m.scripts[function] = &Script{
		Name:     name,
		Function: function,
		Kind:     kind,
		Program:  program,
	}

	m.logger.Info().
		Str("name", name).
		Str("function", function).
		Str("kind", string(kind)).
		Msg("script loaded")

	return nil
}

// Functions returns a remote function for every loaded script. Calls made
// by scripts through remote.call go to caller.
func (m *Manager) Functions(caller Caller) []*remote.Function {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.scripts))
	for function := range m.scripts {
		names = append(names, function)
	}
	sort.Strings(names)

	fns := make([]*remote.Function, 0, len(names))
	for _, function := range names {
		s := m.scripts[function]
		call := func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			return m.Execute(ctx, s, params, caller)
		}
		if s.Kind == remote.KindCommand {
			fns = append(fns, remote.Command(function, call))
		} else {
			fns = append(fns, remote.Query(function, call))
		}
	}
	return fns
}

// Execute runs a script with a timeout
func (m *Manager) Execute(ctx context.Context, s *Script, params json.RawMessage, caller Caller) (interface{}, error) {
	var parsed interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &parsed); err != nil {
			return nil, &remote.ValidationError{Function: s.Function, Issues: []remote.Issue{{Message: fmt.Sprintf("invalid params: %v", err)}}}
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rt := NewRuntime(execCtx, caller, m.logger.With().Str("script", s.Name).Logger())

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := rt.Run(s.Program, parsed)
		done <- outcome{result, err}
	}()

	select {
	case <-execCtx.Done():
		rt.Interrupt("execution cancelled")
		m.logger.Warn().
			Str("function", s.Function).
			Dur("timeout", m.timeout).
			Msg("script execution stopped")
		return nil, execCtx.Err()
	case out := <-done:
		if out.err != nil {
			return nil, m.scriptError(s, out.err)
		}
		return out.result, nil
	}
}

// scriptError converts a failure inside a script into a remote error.
// Errors raised by nested remote calls keep their type.
func (m *Manager) scriptError(s *Script, err error) error {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return fmt.Errorf("script %s: %w", s.Name, err)
	}

	var remoteErr *remote.Error
	if errors.As(err, &remoteErr) || errors.As(goError(ex), &remoteErr) {
		return remoteErr
	}

	if thrown, ok := ex.Value().Export().(map[string]interface{}); ok {
		status, hasStatus := thrown["status"].(int64)
		if f, ok := thrown["status"].(float64); ok {
			status, hasStatus = int64(f), true
		}
		message, hasMessage := thrown["message"].(string)
		if hasStatus && hasMessage {
			return remote.NewError(int(status), message)
		}
	}

	return fmt.Errorf("script %s: %s", s.Name, ex.Error())
}

// Names returns the functions of all loaded scripts
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.scripts))
	for function := range m.scripts {
		names = append(names, function)
	}
	sort.Strings(names)
	return names
}

// goError returns the Go error carried by an exception raised through NewGoError
func goError(ex *goja.Exception) error {
	obj, ok := ex.Value().(*goja.Object)
	if !ok {
		return nil
	}
	if v := obj.Get("value"); v != nil {
		if err, ok := v.Export().(error); ok {
			return err
		}
	}
	return nil
}
