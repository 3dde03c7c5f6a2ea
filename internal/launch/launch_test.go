package launch

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/lifegrid/internal/config"
	"github.com/danmuck/lifegrid/internal/testutil/testlog"
)

func TestJoinCommandEscaping(t *testing.T) {
	testlog.Start(t)
	got := joinCommand("lifeworker", []string{"-coordinator", "a b", "quote'v"})
	want := "'lifeworker' '-coordinator' 'a b' 'quote'\"'\"'v'"
	if got != want {
		t.Fatalf("unexpected joined command\nwant: %s\ngot:  %s", want, got)
	}
}

func TestSSHRunnerAddressValidation(t *testing.T) {
	testlog.Start(t)
	r := SSHRunner{}
	if _, err := r.address(); err == nil {
		t.Fatalf("expected host validation error")
	}
	r.Host = "node-a"
	addr, err := r.address()
	if err != nil || addr != "node-a:22" {
		t.Fatalf("expected default ssh port, got %q %v", addr, err)
	}
	r.Port = "2222"
	if addr, _ := r.address(); addr != "node-a:2222" {
		t.Fatalf("explicit port: %q", addr)
	}
}

func TestSSHRunnerClientConfigValidation(t *testing.T) {
	testlog.Start(t)
	r := SSHRunner{Host: "node-a"}
	if _, err := r.clientConfig(); err == nil {
		t.Fatalf("expected missing user validation error")
	}
	r.User = "life"
	if _, err := r.clientConfig(); err == nil {
		t.Fatalf("expected missing key validation error")
	}
}

func TestForTarget(t *testing.T) {
	testlog.Start(t)
	if _, ok := ForTarget(config.LaunchTarget{Command: "lifeworker"}, time.Second).(LocalRunner); !ok {
		t.Fatalf("empty host should run locally")
	}
	r, ok := ForTarget(config.LaunchTarget{Host: "node-b", User: "life", Command: "lifeworker"}, time.Second).(SSHRunner)
	if !ok || r.Host != "node-b" || r.Timeout != time.Second {
		t.Fatalf("remote target: %+v", r)
	}
}

func TestWorkerArgsAddsDistinctID(t *testing.T) {
	testlog.Start(t)
	got := workerArgs([]string{"-coordinator", "c:7400"}, 3)
	if strings.Join(got, " ") != "-coordinator c:7400 -id worker-3" {
		t.Fatalf("args: %v", got)
	}
	kept := workerArgs([]string{"-id=mine"}, 1)
	if len(kept) != 1 {
		t.Fatalf("explicit id should be kept: %v", kept)
	}
}

func TestWorkersRunsLocalTargets(t *testing.T) {
	testlog.Start(t)
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	var out bytes.Buffer
	targets := []config.LaunchTarget{{Command: "echo", Args: []string{"hello"}}}
	if err := Workers(context.Background(), targets, time.Second, &out, &out); err != nil {
		t.Fatalf("workers: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "hello -id worker-0" {
		t.Fatalf("output: %q", got)
	}
	if err := Workers(context.Background(), []config.LaunchTarget{{Host: "x"}}, time.Second, &out, &out); err == nil {
		t.Fatalf("expected validation error")
	}
}
