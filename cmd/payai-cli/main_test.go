package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"payai/core"
	"payai/core/genesis"
	"payai/crypto"
	"payai/rpc"
	"payai/storage"
)

type env struct {
	t        *testing.T
	url      string
	dir      string
	node     *core.Node
	adminKey string
	admin    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	admin, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate admin key: %v", err)
	}
	adminKey := filepath.Join(dir, "admin.json")
	if err := crypto.SaveKeyFile(adminKey, admin); err != nil {
		t.Fatalf("save admin key: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	node, err := core.NewNode(storage.NewMemDB(), core.NodeConfig{
		BootstrapAdmin: admin.PublicKey(),
		DefaultFeePct:  1,
		Logger:         logger,
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(node.Close)
	srv, err := rpc.NewServer(node, rpc.ServerConfig{Logger: logger})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return &env{t: t, url: httpSrv.URL, dir: dir, node: node, adminKey: adminKey, admin: admin.PublicKey().String()}
}

func (e *env) run(args ...string) (string, error) {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--rpc", e.url}, args...))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func (e *env) mustRun(args ...string) map[string]interface{} {
	e.t.Helper()
	out, err := e.run(args...)
	if err != nil {
		e.t.Fatalf("%v: %v", args, err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		e.t.Fatalf("%v: decode output %q: %v", args, out, err)
	}
	return decoded
}

// newKey generates a key file through the CLI and returns its path and
// public key.
func (e *env) newKey(name string) (string, string) {
	e.t.Helper()
	path := filepath.Join(e.dir, name+".json")
	out := e.mustRun("keys", "generate", "--out", path)
	return path, out["publicKey"].(string)
}

func (e *env) fund(account string, amount uint64) {
	e.t.Helper()
	spec, err := genesis.ParseGenesisSpec([]byte(fmt.Sprintf(
		`{"genesisTime":"2024-01-01T00:00:00Z","alloc":{%q:"%d"}}`, account, amount)))
	if err != nil {
		e.t.Fatalf("genesis: %v", err)
	}
	if _, err := e.node.ApplyGenesis(spec); err != nil {
		e.t.Fatalf("apply genesis: %v", err)
	}
}

func balanceOf(t *testing.T, out map[string]interface{}) float64 {
	t.Helper()
	balance, ok := out["balance"].(float64)
	if !ok {
		t.Fatalf("unexpected balance output %v", out)
	}
	return balance
}

func TestCLIEscrowLifecycle(t *testing.T) {
	e := newEnv(t)
	adminKey, admin := e.adminKey, e.admin
	buyerKey, buyer := e.newKey("buyer")
	_, seller := e.newKey("seller")
	e.fund(buyer, 5000)

	e.mustRun("--key", adminKey, "init-global-state")
	e.mustRun("--key", adminKey, "update-fee", "seller", "--pct", "2")
	e.mustRun("--key", buyerKey, "init-counter")

	receipt := e.mustRun("--key", buyerKey, "start", "--seller", seller, "--amount", "1000", "--reference", "order-42")
	events := receipt["events"].([]interface{})
	attrs := events[0].(map[string]interface{})["attributes"].(map[string]interface{})
	agreement := attrs["agreement"].(string)

	got := e.mustRun("get", agreement)
	if got["agreement"].(map[string]interface{})["status"] != "funded" {
		t.Fatalf("unexpected agreement %v", got)
	}

	e.mustRun("--key", buyerKey, "release", "--agreement", agreement)
	if balance := balanceOf(t, e.mustRun("balance", seller)); balance != 980 {
		t.Fatalf("seller balance %v, want 980", balance)
	}
	if balance := balanceOf(t, e.mustRun("--key", buyerKey, "balance")); balance != 3990 {
		t.Fatalf("buyer balance %v, want 3990", balance)
	}

	collected := e.mustRun("--key", adminKey, "collect-fees")
	collectedAttrs := collected["events"].([]interface{})[0].(map[string]interface{})["attributes"].(map[string]interface{})
	if collectedAttrs["amount"] != "30" {
		t.Fatalf("collected %v, want 30", collectedAttrs["amount"])
	}
	if balance := balanceOf(t, e.mustRun("balance", admin)); balance != 30 {
		t.Fatalf("admin balance %v, want 30", balance)
	}

	counter := e.mustRun("counter", buyer)
	if counter["counter"].(float64) != 1 {
		t.Fatalf("unexpected counter %v", counter)
	}

	out, err := e.run("--key", buyerKey, "release", "--agreement", agreement)
	if err == nil || !strings.Contains(err.Error(), "rpc error") {
		t.Fatalf("expected rpc error for second release, got %v (%s)", err, out)
	}
}

func TestCLITransferAndYAMLOutput(t *testing.T) {
	e := newEnv(t)
	adminKey := e.adminKey
	senderKey, sender := e.newKey("sender")
	_, recipient := e.newKey("recipient")
	e.fund(sender, 100)

	e.mustRun("--key", senderKey, "transfer", "--to", recipient, "--amount", "40")
	if balance := balanceOf(t, e.mustRun("balance", recipient)); balance != 40 {
		t.Fatalf("recipient balance %v, want 40", balance)
	}

	e.mustRun("--key", adminKey, "init-global-state")
	out, err := e.run("--output", "yaml", "quote", "--amount", "1000")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	for _, want := range []string{"gross: 1010", "payout: 990", "platformFee: 20"} {
		if !strings.Contains(out, want) {
			t.Fatalf("yaml output %q missing %q", out, want)
		}
	}
}

func TestCLIWatchStreamsEvents(t *testing.T) {
	e := newEnv(t)
	adminKey, admin := e.adminKey, e.admin
	e.mustRun("--key", adminKey, "init-global-state")

	out, err := e.run("watch", "--type", "escrow.global", "--limit", "1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	var update core.EventUpdate
	if err := json.Unmarshal([]byte(out), &update); err != nil {
		t.Fatalf("decode update %q: %v", out, err)
	}
	if update.Cursor != "1" || update.Event.Attributes["admin"] != admin {
		t.Fatalf("unexpected update %+v", update)
	}
}

func TestCLIKeystoreAndValidation(t *testing.T) {
	e := newEnv(t)
	t.Setenv(keyPassEnv, "correct horse")
	path := filepath.Join(e.dir, "sealed.json")
	generated := e.mustRun("keys", "generate", "--out", path, "--encrypt")
	if !crypto.IsKeystoreFile(path) {
		t.Fatalf("expected keystore file at %s", path)
	}
	shown := e.mustRun("--key", path, "keys", "show")
	if shown["publicKey"] != generated["publicKey"] {
		t.Fatalf("keystore round trip mismatch: %v vs %v", shown, generated)
	}

	if _, err := e.run("init-global-state"); err == nil || !strings.Contains(err.Error(), "--key is required") {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := e.run("--output", "xml", "quote", "--amount", "1"); err == nil {
		t.Fatalf("expected output format error")
	}
	if _, err := e.run("--key", path, "update-fee", "both", "--pct", "1"); err == nil {
		t.Fatalf("expected fee side error")
	}
	if _, err := e.run("--key", path, "start", "--seller", "bogus", "--amount", "1", "--reference", "x"); err == nil {
		t.Fatalf("expected invalid seller error")
	}
}

func TestEventsURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8899":  "ws://127.0.0.1:8899/ws/events?cursor=7&type=escrow",
		"https://node.example/":  "wss://node.example/ws/events?cursor=7&type=escrow",
		"ws://node.example/base": "ws://node.example/base/ws/events?cursor=7&type=escrow",
	}
	for endpoint, want := range cases {
		got, err := eventsURL(endpoint, "7", "escrow")
		if err != nil || got != want {
			t.Fatalf("eventsURL(%q) = %q, %v; want %q", endpoint, got, err, want)
		}
	}
	if _, err := eventsURL("ftp://node", "", ""); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}
