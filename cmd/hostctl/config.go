package main

import (
	"github.com/spf13/pflag"

	"github.com/danmuck/remotectl/internal/config"
)

type options struct {
	configPath string
	help       bool

	flags *pflag.FlagSet
	url   string
	orig  string
	trans string
	cmd   string
	name  string
	auto  bool
	log   string
	level string
}

func newFlagSet() (*pflag.FlagSet, *options) {
	o := &options{}
	fs := pflag.NewFlagSet("hostctl", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "path to host TOML config")
	fs.StringVar(&o.url, "url", "", "game url, resolved against --origin")
	fs.StringVar(&o.orig, "origin", "", "host origin, e.g. http://127.0.0.1:8080")
	fs.StringVar(&o.trans, "transport", "", "game transport: websocket|process")
	fs.StringVar(&o.cmd, "game-command", "", "game executable for the process transport")
	fs.StringVar(&o.name, "window-name", "", "name given to the opened game")
	fs.BoolVar(&o.auto, "autostart", false, "send start once the game has loaded")
	fs.StringVar(&o.log, "message-log", "", "append rendered game messages to this file")
	fs.StringVar(&o.level, "log-level", "", "log level: trace|debug|info|warn|error|disabled")
	fs.BoolVarP(&o.help, "help", "h", false, "show help")
	o.flags = fs
	return fs, o
}

// loadConfig layers flags that were set on the command line over the file
// and environment config.
func (o *options) loadConfig() (config.Host, error) {
	cfg, err := config.LoadHost(o.configPath)
	if err != nil {
		return config.Host{}, err
	}
	set := func(name string, dst *string, v string) {
		if o.flags.Changed(name) {
			*dst = v
		}
	}
	set("url", &cfg.URL, o.url)
	set("origin", &cfg.Origin, o.orig)
	set("transport", &cfg.Transport, o.trans)
	set("game-command", &cfg.GameCommand, o.cmd)
	set("window-name", &cfg.WindowName, o.name)
	set("message-log", &cfg.MessageLog, o.log)
	set("log-level", &cfg.LogLevel, o.level)
	if o.flags.Changed("autostart") {
		cfg.Autostart = o.auto
	}
	if err := config.ValidateHost(cfg); err != nil {
		return config.Host{}, err
	}
	return cfg, nil
}
