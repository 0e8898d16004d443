package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stellarlinkco/call-eval/api"
	"github.com/stellarlinkco/call-eval/internal/app"
	"github.com/stellarlinkco/call-eval/internal/config"
)

func saveServerGlobals(t *testing.T) func() {
	t.Helper()

	oldOsExit := osExit
	oldStderrWriter := stderrWriter
	oldLoadConfig := loadConfig
	oldNewApp := newApp
	oldNewServer := newServer
	oldRunServer := runServer

	return func() {
		osExit = oldOsExit
		stderrWriter = oldStderrWriter
		loadConfig = oldLoadConfig
		newApp = oldNewApp
		newServer = oldNewServer
		runServer = oldRunServer
	}
}

func TestRunMain_BadFlags(t *testing.T) {
	defer saveServerGlobals(t)()
	var buf bytes.Buffer
	stderrWriter = &buf

	if code := runMain([]string{"-nope"}); code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}

func TestRunMain_Help(t *testing.T) {
	defer saveServerGlobals(t)()
	var buf bytes.Buffer
	stderrWriter = &buf

	if code := runMain([]string{"-h"}); code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
}

func TestRunMain_ConfigError(t *testing.T) {
	defer saveServerGlobals(t)()
	var buf bytes.Buffer
	stderrWriter = &buf
	loadConfig = func(path string) (*config.Config, error) {
		return nil, errors.New("boom: config unreadable")
	}

	if code := runMain(nil); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "config unreadable") {
		t.Fatalf("stderr = %q, want config error", buf.String())
	}
}

func TestRunMain_HappyPath(t *testing.T) {
	defer saveServerGlobals(t)()
	var buf bytes.Buffer
	stderrWriter = &buf

	loadConfig = func(path string) (*config.Config, error) {
		return config.Default(), nil
	}
	newApp = func(cfg *config.Config) (*app.App, error) {
		return &app.App{Config: cfg}, nil
	}

	var gotSuitesDir, gotAddr string
	stub := &api.Server{}
	newServer = func(cfg *config.Config, a *app.App, suitesDir string) (*api.Server, error) {
		gotSuitesDir = suitesDir
		return stub, nil
	}
	runServer = func(s *api.Server, addr string) error {
		gotAddr = addr
		return nil
	}

	if code := runMain([]string{"-addr", ":9999", "-suites", "cases"}); code != 0 {
		t.Fatalf("exit = %d, want 0 (stderr %q)", code, buf.String())
	}
	if gotAddr != ":9999" || gotSuitesDir != "cases" {
		t.Fatalf("addr = %q suites = %q, want :9999 / cases", gotAddr, gotSuitesDir)
	}
}

func TestRunMain_ServerError(t *testing.T) {
	defer saveServerGlobals(t)()
	var buf bytes.Buffer
	stderrWriter = &buf

	loadConfig = func(path string) (*config.Config, error) { return config.Default(), nil }
	newApp = func(cfg *config.Config) (*app.App, error) { return &app.App{Config: cfg}, nil }
	newServer = func(cfg *config.Config, a *app.App, suitesDir string) (*api.Server, error) {
		return nil, errors.New("missing auth configuration")
	}

	if code := runMain(nil); code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "missing auth") {
		t.Fatalf("stderr = %q, want auth error", buf.String())
	}
}
