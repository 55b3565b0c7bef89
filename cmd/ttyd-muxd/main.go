// Command ttyd-muxd is the ttyd-mux daemon entrypoint: it loads
// configuration, resolves the backend binary, and runs the DaemonServer
// until a signal or control-socket shutdown arrives.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/xhd2015/less-gen/flags"
	"github.com/xhd2015/ttyd-mux/internal/config"
	"github.com/xhd2015/ttyd-mux/internal/daemon"
	"github.com/xhd2015/ttyd-mux/internal/procutil"
	"github.com/xhd2015/ttyd-mux/internal/session"
	"github.com/xhd2015/ttyd-mux/internal/toolpath"
)

var help = `Usage: ttyd-muxd [options]

Runs the ttyd-mux daemon: supervises terminal backends and fronts them on
one HTTP listener.

Options:
  --config <path>   YAML configuration file (default: <state dir>/config.yaml)
  --backend <name>  backend binary to spawn per session (default: ttyd-mux-backend)
  --log <path>      log file to tee daemon output to (default: stdout only)
  -h, --help        show this help message
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var backendName string
	var logPath string
	_, err := flags.
		String("--config", &configPath).
		String("--backend", &backendName).
		String("--log", &logPath).
		Help("-h,--help", help).
		Parse(args)
	if err != nil {
		return err
	}
	if backendName == "" {
		backendName = "ttyd-mux-backend"
	}

	stateDir, err := daemon.ResolveStateDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if configPath == "" {
		configPath = stateDir + "/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := daemon.NewLogger(logPath)
	if err != nil {
		return err
	}
	defer logger.Close()

	backendPath, err := toolpath.LookPath(backendName)
	if err != nil {
		logger.Log("warning: %v (backend spawn will fail until it is on PATH)", err)
		backendPath = backendName
	}

	srv, err := daemon.New(daemon.Options{
		Config:         cfg,
		ConfigPath:     configPath,
		StateDir:       stateDir,
		Logger:         logger,
		BackendBuilder: buildBackendCommand(backendPath),
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	srv.WaitForSignal()
	return nil
}

// buildBackendCommand returns the session.CommandBuilder that constructs
// the backend invocation: listen on 127.0.0.1:port, serve under urlPrefix.
// Grounded on ccoles146-termbrowser's terminal.Manager.buildCommand
// (switch-over-id-shape to build an exec.Cmd), generalized from Proxmox
// SSH targets to a single local-PTY-backend command template.
func buildBackendCommand(backendPath string) session.CommandBuilder {
	return func(opts session.StartOptions, port int, urlPrefix string) (string, []string, []string) {
		args := []string{
			"--port", strconv.Itoa(port),
			"--prefix", urlPrefix,
		}
		env := toolpath.AppendExtraPaths(procutil.BuildEnv(nil))
		return backendPath, args, env
	}
}
