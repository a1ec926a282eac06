package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"rpcdemo/internal/client"
	"rpcdemo/internal/config"
	"rpcdemo/internal/demo"
	"rpcdemo/internal/rpc"
)

const teamScript = `// @query teamOfOrganization
function execute(params, remote) {
	var org = remote.call("getOrganizationDetails", { orgId: params.orgId });
	var project = remote.call("getProjectInfo", { projectId: org.primaryProjectId });
	var lead = remote.call("getUserProfile", { userId: project.leadUserId });
	return remote.call("getTeamMembers", { teamId: lead.teamId });
}
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "team.js"), []byte(teamScript), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.RPCPort = 0
	cfg.WSPort = 0
	scale := 0.0
	cfg.DelayScale = &scale
	cfg.BatchWindow = 20
	cfg.StatsLogInterval = 10
	cfg.Cache = &config.CacheConfig{
		Enabled: true,
		Backend: config.CacheBackendMemory,
		TTL:     30,
		Size:    100,
	}
	cfg.Scripts = &config.ScriptsConfig{
		Enabled:   true,
		Directory: dir,
		Timeout:   1000,
	}
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
	return srv
}

func TestServer_EndToEnd(t *testing.T) {
	srv := startServer(t, testConfig(t))

	c := client.NewHTTP("http://"+srv.RPCAddr()+rpc.PathRPC, zerolog.Nop())
	defer c.Close()
	ctx := context.Background()

	users, err := c.Users(ctx, []string{"1", "2"})
	if err != nil {
		t.Fatalf("Users() error = %v", err)
	}
	if users[1].User.Name != "User 2" {
		t.Errorf("unexpected user %+v", users[1].User)
	}

	var team []demo.TeamMember
	if err := c.Call(ctx, "teamOfOrganization", map[string]string{"orgId": "org-123"}, &team); err != nil {
		t.Fatalf("Call(teamOfOrganization) error = %v", err)
	}
	if len(team) != 3 {
		t.Errorf("expected 3 members, got %d", len(team))
	}

	// Cached queries return the first result
	var first, second demo.DelayedTime
	if err := c.Call(ctx, demo.GetDelayedTime, map[string]int{"delay": 1}, &first); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := c.Call(ctx, demo.GetDelayedTime, map[string]int{"delay": 1}, &second); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if first.Timestamp != second.Timestamp {
		t.Errorf("expected cached timestamp %s, got %s", first.Timestamp, second.Timestamp)
	}

	if stats := srv.Registry().BatchStats()[demo.GetUserByID]; stats.Batches != 1 {
		t.Errorf("expected one user batch, got %+v", stats)
	}
}

func TestServer_WebSocket(t *testing.T) {
	srv := startServer(t, testConfig(t))

	transport, err := client.DialWS(context.Background(), "ws://"+srv.WSAddr(), zerolog.Nop())
	if err != nil {
		t.Fatalf("DialWS() error = %v", err)
	}
	c := client.New(transport, zerolog.Nop())
	defer c.Close()

	res, err := c.Waterfall(context.Background())
	if err != nil {
		t.Fatalf("Waterfall() error = %v", err)
	}
	if res.Lead.Name != "Jane Smith" {
		t.Errorf("unexpected lead %+v", res.Lead)
	}
}

func TestServer_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Cache.RedisURL = "redis://" + mr.Addr()
	srv := startServer(t, cfg)

	c := client.NewHTTP("http://"+srv.RPCAddr()+rpc.PathRPC, zerolog.Nop())
	defer c.Close()

	var data demo.InitialData
	if err := c.Call(context.Background(), demo.GetInitialData, nil, &data); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Errorf("expected one cached entry in redis, got %v", mr.Keys())
	}
}

func TestServer_BadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Cache.RedisURL = "not-a-url"

	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid redis url")
	}
}

func TestServer_PortInUse(t *testing.T) {
	first := startServer(t, testConfig(t))

	cfg := testConfig(t)
	_, port, err := net.SplitHostPort(first.RPCAddr())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	cfg.RPCPort, _ = strconv.Atoi(port)

	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.Start(); err == nil {
		srv.Stop(context.Background())
		t.Error("expected listen error for port in use")
	}
}
