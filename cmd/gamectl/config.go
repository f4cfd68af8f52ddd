package main

import (
	"github.com/spf13/pflag"

	"github.com/danmuck/remotectl/internal/config"
)

type options struct {
	configPath string
	stdio      bool
	url        string
	windowName string
	help       bool

	flags  *pflag.FlagSet
	addr   string
	origin string
	path   string
	log    string
	level  string
	strict bool
}

func newFlagSet() (*pflag.FlagSet, *options) {
	o := &options{}
	fs := pflag.NewFlagSet("gamectl", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "path to game TOML config")
	fs.BoolVar(&o.stdio, "stdio", false, "serve the opener over stdin/stdout instead of HTTP")
	fs.StringVar(&o.url, "url", "", "url the host opened this game at")
	fs.StringVar(&o.windowName, "window-name", "", "name the host gave this game")
	fs.StringVar(&o.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&o.origin, "origin", "", "origin this game is served from")
	fs.StringVar(&o.path, "path", "", "websocket mount path")
	fs.StringVar(&o.log, "message-log", "", "append rendered host messages to this file")
	fs.StringVar(&o.level, "log-level", "", "log level: trace|debug|info|warn|error|disabled")
	fs.BoolVar(&o.strict, "strict-transitions", false, "reject status changes outside the transition table")
	fs.BoolVarP(&o.help, "help", "h", false, "show help")
	o.flags = fs
	return fs, o
}

func (o *options) loadConfig() (config.Game, error) {
	cfg, err := config.LoadGame(o.configPath)
	if err != nil {
		return config.Game{}, err
	}
	set := func(name string, dst *string, v string) {
		if o.flags.Changed(name) {
			*dst = v
		}
	}
	set("addr", &cfg.Addr, o.addr)
	set("origin", &cfg.Origin, o.origin)
	set("path", &cfg.Path, o.path)
	set("message-log", &cfg.MessageLog, o.log)
	set("log-level", &cfg.LogLevel, o.level)
	if o.flags.Changed("window-name") && o.windowName != "" {
		cfg.Name = o.windowName
	}
	if o.flags.Changed("strict-transitions") {
		cfg.StrictTransitions = o.strict
	}
	if err := config.ValidateGame(cfg); err != nil {
		return config.Game{}, err
	}
	return cfg, nil
}
