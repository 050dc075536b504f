package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/workerbridge/internal/config"
	"github.com/morezero/workerbridge/pkg/events"
	"github.com/morezero/workerbridge/pkg/handler/echo"
	"github.com/morezero/workerbridge/pkg/natsbridge"
)

const serverTestPrefix = "server:server_test"

const remoteCatalog = `{
  "name": "test",
  "version": "1.2.0",
  "services": {
    "echo": {
      "timeoutSeconds": 5,
      "workers": {
        "public": {"name": "public", "configInfo": {"input": "text"}},
        "inline": {"local": "echo"}
      }
    }
  }
}`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bootstrap.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("%s - write catalog: %v", serverTestPrefix, err)
	}
	return path
}

func testConfig(bootstrapFile string) *config.Config {
	return &config.Config{
		BootstrapFile:      bootstrapFile,
		CallRetries:        1,
		CallGrace:          200 * time.Millisecond,
		UsageSink:          config.UsageSinkNone,
		UsageSubjectPrefix: events.DefaultUsageSubjectPrefix,
		HealthCheckTimeout: time.Second,
		COMMSName:          "workerbridge-test",
	}
}

func startCommsServer(t *testing.T, port int) *commsserver.Server {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: port, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", serverTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", serverTestPrefix)
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func startEchoResponder(t *testing.T, url string) {
	t.Helper()
	serving := make(chan struct{}, 1)
	r, err := natsbridge.NewResponder(natsbridge.Params{
		URL:       url,
		Service:   "echo",
		Worker:    "public",
		Handler:   echo.New(),
		OnServing: func() { serving <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("%s - NewResponder: %v", serverTestPrefix, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	select {
	case <-serving:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - responder never subscribed", serverTestPrefix)
	}
}

func TestNew_DefaultCatalogLocalOnly(t *testing.T) {
	t.Setenv("BOOTSTRAP_FILE", "")

	s, err := New(context.Background(), testConfig(""), DefaultHandlers())
	if err != nil {
		t.Fatalf("%s - New: %v", serverTestPrefix, err)
	}
	defer s.Close()

	if len(s.Dispatchers()) != 1 || s.Dispatchers()[0].Service().Name() != "echo" {
		t.Fatalf("%s - dispatchers = %v", serverTestPrefix, s.Dispatchers())
	}

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/echo", "application/json", strings.NewReader(`{"text":["a","b"]}`))
	if err != nil {
		t.Fatalf("%s - POST: %v", serverTestPrefix, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serverTestPrefix, resp.StatusCode)
	}
	var got map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if len(got["Result"]) != 2 {
		t.Errorf("%s - Result = %v", serverTestPrefix, got["Result"])
	}

	health, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("%s - GET /health: %v", serverTestPrefix, err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("%s - /health status = %d, want 200", serverTestPrefix, health.StatusCode)
	}
}

func TestNew_RemoteWorkerWithoutBrokerFails(t *testing.T) {
	s, err := New(context.Background(), testConfig(writeCatalog(t, remoteCatalog)), DefaultHandlers())
	if err == nil {
		s.Close()
		t.Fatalf("%s - expected an error for a remote worker without a broker", serverTestPrefix)
	}
}

func TestNew_UnknownLocalHandlerFails(t *testing.T) {
	catalog := `{"name":"t","version":"1.0.0","services":{"echo":{"workers":{"public":{"local":"missing"}}}}}`
	if _, err := New(context.Background(), testConfig(writeCatalog(t, catalog)), DefaultHandlers()); err == nil {
		t.Fatalf("%s - expected an error for an unregistered local handler", serverTestPrefix)
	}
}

func TestNew_InvalidCatalogFails(t *testing.T) {
	catalog := `{"name":"t","version":"2.0.0","services":{"echo":{"workers":{"public":{"local":"echo"}}}}}`
	if _, err := New(context.Background(), testConfig(writeCatalog(t, catalog)), DefaultHandlers()); err == nil {
		t.Fatalf("%s - expected an error for catalog version 2.0.0", serverTestPrefix)
	}
}

func TestNew_BrokerUnreachableFails(t *testing.T) {
	cfg := testConfig(writeCatalog(t, remoteCatalog))
	cfg.Broker = config.BrokerNATS
	cfg.COMMSURL = "nats://127.0.0.1:14349"
	if _, err := New(context.Background(), cfg, DefaultHandlers()); err == nil {
		t.Fatalf("%s - expected an error when the exchange cannot be declared", serverTestPrefix)
	}
}

func TestGateway_EndToEndOverNATS(t *testing.T) {
	ns := startCommsServer(t, 14340)
	startEchoResponder(t, ns.ClientURL())

	cfg := testConfig(writeCatalog(t, remoteCatalog))
	cfg.Broker = config.BrokerNATS
	cfg.COMMSURL = ns.ClientURL()
	cfg.UsageSink = config.UsageSinkNATS

	usage, err := comms.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("%s - connect: %v", serverTestPrefix, err)
	}
	defer usage.Close()
	usageSub, err := usage.SubscribeSync("usage.echo")
	if err != nil {
		t.Fatalf("%s - subscribe: %v", serverTestPrefix, err)
	}
	usage.Flush()

	s, err := New(context.Background(), cfg, DefaultHandlers())
	if err != nil {
		t.Fatalf("%s - New: %v", serverTestPrefix, err)
	}
	defer s.Close()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/echo", strings.NewReader(`{"text":"over the broker"}`))
	req.Header.Set("application", "e2e")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s - POST: %v", serverTestPrefix, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serverTestPrefix, resp.StatusCode)
	}
	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if got["Result"] != "over the broker" {
		t.Errorf("%s - Result = %q", serverTestPrefix, got["Result"])
	}

	msg, err := usageSub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("%s - no usage event: %v", serverTestPrefix, err)
	}
	var event events.UsageEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		t.Fatalf("%s - decode usage event: %v", serverTestPrefix, err)
	}
	if event.Service != "echo" || event.Application != "e2e" || event.StatusCode != http.StatusOK || event.Local {
		t.Errorf("%s - usage event = %+v", serverTestPrefix, event)
	}

	// The inline token is answered in-process on the same endpoint.
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/echo", strings.NewReader(`{"text":"inline"}`))
	req.Header.Set("x-api-key", "inline")
	inline, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s - POST inline: %v", serverTestPrefix, err)
	}
	inline.Body.Close()
	if inline.StatusCode != http.StatusOK {
		t.Errorf("%s - inline status = %d, want 200", serverTestPrefix, inline.StatusCode)
	}

	describe, err := http.Get(ts.URL + "/echo")
	if err != nil {
		t.Fatalf("%s - GET: %v", serverTestPrefix, err)
	}
	defer describe.Body.Close()
	var info map[string]string
	json.NewDecoder(describe.Body).Decode(&info)
	if describe.StatusCode != http.StatusOK || info["input"] != "text" {
		t.Errorf("%s - describe = %d %v", serverTestPrefix, describe.StatusCode, info)
	}

	health, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("%s - GET /health: %v", serverTestPrefix, err)
	}
	defer health.Body.Close()
	var h HealthOutput
	json.NewDecoder(health.Body).Decode(&h)
	if health.StatusCode != http.StatusOK || h.Broker != config.BrokerNATS {
		t.Errorf("%s - health = %d %+v", serverTestPrefix, health.StatusCode, h)
	}
}

func TestGateway_NoWorkerBoundIsUnavailable(t *testing.T) {
	ns := startCommsServer(t, 14341)

	cfg := testConfig(writeCatalog(t, remoteCatalog))
	cfg.Broker = config.BrokerNATS
	cfg.COMMSURL = ns.ClientURL()

	s, err := New(context.Background(), cfg, DefaultHandlers())
	if err != nil {
		t.Fatalf("%s - New: %v", serverTestPrefix, err)
	}
	defer s.Close()

	rec := do(s.Handler(), http.MethodPost, "/echo", `{"text":"nobody home"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - status = %d, want 503", serverTestPrefix, rec.Code)
	}
}
