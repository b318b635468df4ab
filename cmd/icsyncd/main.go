package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/matheus3301/icsync/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", defaultConfigPath(), "path to config file")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: *configFlag}),
	)

	app.Run()
}

func defaultConfigPath() string {
	if v := os.Getenv("ICSYNC_DATA_DIR"); v != "" {
		return filepath.Join(v, "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".icsync", "config.toml")
}
