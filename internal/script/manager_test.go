package script

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rpcdemo/internal/demo"
	"rpcdemo/internal/remote"
)

const waterfallScript = `// @query teamOfOrganization
function execute(params, remote) {
	var org = remote.call("getOrganizationDetails", { orgId: params.orgId });
	var project = remote.call("getProjectInfo", { projectId: org.primaryProjectId });
	var lead = remote.call("getUserProfile", { userId: project.leadUserId });
	console.log("lead", lead.name);
	return remote.call("getTeamMembers", { teamId: lead.teamId });
}
`

const usersScript = `// @query usersByIds
function execute(params, remote) {
	var calls = params.ids.map(function(id) {
		return { name: "getUserById", params: id };
	});
	return remote.batchCall(calls).map(function(u) { return u.name; });
}
`

const failingScript = `// @command failOnPurpose
function execute(params, remote) {
	throw { status: 409, message: "already done" };
}
`

const nestedErrorScript = `// @query nestedError
function execute(params, remote) {
	return remote.call("getErrorQuery", {});
}
`

const loopScript = `// @query spin
function execute(params, remote) {
	while (true) {}
}
`

func newTestRegistry(t *testing.T, timeout time.Duration, scripts map[string]string) (*remote.Registry, *Manager) {
	t.Helper()
	reg := remote.NewRegistry(remote.Options{}, zerolog.Nop())
	if err := demo.Register(reg, demo.Options{BatchWindow: 20 * time.Millisecond}, zerolog.Nop()); err != nil {
		t.Fatalf("demo.Register() error = %v", err)
	}

	m := NewManager(timeout, zerolog.Nop())
	for name, source := range scripts {
		if err := m.Load(name, source); err != nil {
			t.Fatalf("Load(%s) error = %v", name, err)
		}
	}
	if err := reg.Register(m.Functions(reg)...); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	t.Cleanup(reg.Close)
	return reg, m
}

func TestManager_Waterfall(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Second, map[string]string{"waterfall": waterfallScript})

	data, err := reg.Call(context.Background(), "teamOfOrganization", json.RawMessage(`{"orgId":"org-123"}`))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	var members []demo.TeamMember
	if err := json.Unmarshal(data, &members); err != nil {
		t.Fatalf("failed to decode %s: %v", data, err)
	}
	if len(members) != 3 || members[0].Name != "Jane Smith" {
		t.Errorf("unexpected members %+v", members)
	}
}

func TestManager_BatchCallCoalesces(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Second, map[string]string{"users": usersScript})

	data, err := reg.Call(context.Background(), "usersByIds", json.RawMessage(`{"ids":["a","b","a"]}`))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		t.Fatalf("failed to decode %s: %v", data, err)
	}
	if len(names) != 3 || names[0] != "User a" || names[1] != "User b" || names[2] != "User a" {
		t.Errorf("unexpected names %v", names)
	}

	if stats := reg.BatchStats()[demo.GetUserByID]; stats.Batches != 1 || stats.Keys != 2 {
		t.Errorf("expected one batch with 2 keys, got %+v", stats)
	}
}

func TestManager_ThrownStatus(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Second, map[string]string{"fail": failingScript})

	info, err := reg.Get("failOnPurpose")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if info.Kind() != remote.KindCommand {
		t.Errorf("expected command, got %s", info.Kind())
	}

	_, err = reg.Call(context.Background(), "failOnPurpose", nil)
	var remoteErr *remote.Error
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected *remote.Error, got %v", err)
	}
	if remoteErr.Status != http.StatusConflict || remoteErr.Message != "already done" {
		t.Errorf("unexpected error %+v", remoteErr)
	}
}

func TestManager_NestedRemoteError(t *testing.T) {
	reg, _ := newTestRegistry(t, time.Second, map[string]string{"nested": nestedErrorScript})

	_, err := reg.Call(context.Background(), "nestedError", nil)
	var remoteErr *remote.Error
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected *remote.Error, got %v", err)
	}
	if remoteErr.Status != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", remoteErr.Status)
	}
}

func TestManager_Timeout(t *testing.T) {
	reg, _ := newTestRegistry(t, 50*time.Millisecond, map[string]string{"loop": loopScript})

	start := time.Now()
	_, err := reg.Call(context.Background(), "spin", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took too long")
	}
}

func TestManager_LoadErrors(t *testing.T) {
	m := NewManager(0, zerolog.Nop())

	if err := m.Load("nodirective", "function execute() {}"); err == nil {
		t.Error("expected error for missing directive")
	}
	if err := m.Load("broken", "// @query broken\nfunction execute( {"); err == nil {
		t.Error("expected compile error")
	}
	if err := m.Load("one", "// @query same\nfunction execute() { return 1; }"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := m.Load("two", "// @query same\nfunction execute() { return 2; }"); err == nil {
		t.Error("expected duplicate error")
	}
}

func TestManager_LoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"waterfall.js": waterfallScript,
		"fail.js":      failingScript,
		"invalid.js":   "function execute() {}",
		"notes.txt":    "// @query ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	m := NewManager(0, zerolog.Nop())
	if err := m.LoadFromDirectory(dir); err != nil {
		t.Fatalf("LoadFromDirectory() error = %v", err)
	}

	names := m.Names()
	if len(names) != 2 || names[0] != "failOnPurpose" || names[1] != "teamOfOrganization" {
		t.Errorf("unexpected scripts %v", names)
	}

	if err := m.LoadFromDirectory(filepath.Join(dir, "missing")); err != nil {
		t.Errorf("expected missing directory to be ignored, got %v", err)
	}
}
