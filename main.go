/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/cascade/engine"
	"github.com/spaghettifunk/cascade/engine/core"
	"github.com/spaghettifunk/cascade/testbed"
)

func main() {
	configPath := flag.String("config", "configs/engine.toml", "path to the engine configuration")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		core.LogFatal("%s", err)
	}
	app, err := engine.NewApplicationConfig(cfg)
	if err != nil {
		core.LogFatal("%s", err)
	}

	// the log level can be changed while running; everything else needs a restart
	watcher, err := core.NewConfigWatcher(*configPath, func(c *core.EngineConfig) {
		if level, err := core.ParseLogLevel(c.Logging.Level); err == nil {
			core.SetLogLevel(level)
		}
	})
	if err != nil {
		core.LogWarn("config hot reload disabled: %s", err)
	} else {
		defer watcher.Close()
	}

	e, err := engine.New(testbed.NewTestGame(app).Game)
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := e.Initialize(); err != nil {
		core.LogError("failed to initialize: %s", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		// the loop owns the window, so only ask it to stop
		<-sigCh
		e.Quit()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogError("%s", runErr)
		os.Exit(1)
	}
}
