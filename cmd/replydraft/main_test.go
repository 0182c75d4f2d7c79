package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"replydraft/internal/model"
	"replydraft/internal/store"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("REPLYDRAFT_LOG_LEVEL", "error")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "ingest", "process-unread", "replay", "runs", "auth", "watch"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}
}

func TestWatchCommandNeedsTopic(t *testing.T) {
	t.Setenv("PROJECT_ID", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("REPLYDRAFT_WATCH_TOPIC", "")
	t.Setenv("REPLYDRAFT_LEDGER_DSN", filepath.Join(t.TempDir(), "ledger.db"))

	_, err := runCmd(t, "watch", "--email", "a@x.com")
	if err == nil || !strings.Contains(err.Error(), "no notification topic") {
		t.Fatalf("expected missing topic error, got %v", err)
	}
}

func TestReplayCommand(t *testing.T) {
	var got []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer ts.Close()

	payload := filepath.Join(t.TempDir(), "push.json")
	if err := os.WriteFile(payload, []byte(`{"emailAddress":"a@x.com","messageId":"m1"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "replay", "--endpoint", ts.URL, "--payload", payload)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out, "Replay successful: 200") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(string(got), `"message"`) {
		t.Fatalf("payload was not wrapped: %s", got)
	}
}

func TestRunsCommand(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ledger.db")
	s, err := store.Open(dsn)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	now := time.Now()
	err = s.RecordOutcome(context.Background(), model.Outcome{
		RunID: "r1", AccountID: "a@x.com", MessageID: "m1", State: model.StateDone,
		DraftID: "d1", StartedAt: now, EndedAt: now,
	})
	s.Close()
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	t.Setenv("REPLYDRAFT_LEDGER_DSN", dsn)
	out, err := runCmd(t, "runs", "--account", "a@x.com")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "draft d1") || !strings.Contains(out, "DONE") {
		t.Fatalf("unexpected output %q", out)
	}
}
