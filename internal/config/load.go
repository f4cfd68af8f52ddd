package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

type hostFile struct {
	Name           string   `toml:"name"`
	Origin         string   `toml:"origin"`
	URL            string   `toml:"url"`
	Transport      string   `toml:"transport"`
	GameCommand    string   `toml:"game_command"`
	GameArgs       []string `toml:"game_args"`
	WindowName     string   `toml:"window_name"`
	WindowFeatures string   `toml:"window_features"`
	Autostart      bool     `toml:"autostart"`
	MessageLog     string   `toml:"message_log"`
	LogLevel       string   `toml:"log_level"`
	ConnectTimeout string   `toml:"connect_timeout"`
	WriteTimeout   string   `toml:"write_timeout"`
}

type gameFile struct {
	Name              string   `toml:"name"`
	Addr              string   `toml:"addr"`
	Origin            string   `toml:"origin"`
	Path              string   `toml:"path"`
	CORSOrigins       []string `toml:"cors_origins"`
	CheckInterval     string   `toml:"check_interval"`
	InactiveAfter     string   `toml:"inactive_after"`
	StrictTransitions bool     `toml:"strict_transitions"`
	ScorePerPlay      float64  `toml:"score_per_play"`
	MessageLog        string   `toml:"message_log"`
	LogLevel          string   `toml:"log_level"`
	WriteTimeout      string   `toml:"write_timeout"`
}

// Unset variables leave the pointers nil.
type hostEnv struct {
	URL        *string `env:"REMOTECTL_HOST_URL"`
	Origin     *string `env:"REMOTECTL_HOST_ORIGIN"`
	Transport  *string `env:"REMOTECTL_HOST_TRANSPORT"`
	Autostart  *bool   `env:"REMOTECTL_HOST_AUTOSTART"`
	MessageLog *string `env:"REMOTECTL_HOST_MESSAGE_LOG"`
	LogLevel   *string `env:"REMOTECTL_LOG_LEVEL"`
}

type gameEnv struct {
	Addr          *string        `env:"REMOTECTL_GAME_ADDR"`
	Origin        *string        `env:"REMOTECTL_GAME_ORIGIN"`
	InactiveAfter *time.Duration `env:"REMOTECTL_GAME_INACTIVE_AFTER"`
	CheckInterval *time.Duration `env:"REMOTECTL_GAME_CHECK_INTERVAL"`
	MessageLog    *string        `env:"REMOTECTL_GAME_MESSAGE_LOG"`
	LogLevel      *string        `env:"REMOTECTL_LOG_LEVEL"`
}

// LoadHost builds a Host from defaults, the file at path (skipped when path
// is empty) and the environment.
func LoadHost(path string) (Host, error) {
	cfg := DefaultHost()
	if strings.TrimSpace(path) != "" {
		if err := overlayHostFile(&cfg, path); err != nil {
			return Host{}, err
		}
	}
	if err := overlayHostEnv(&cfg); err != nil {
		return Host{}, err
	}
	return cfg, nil
}

func LoadGame(path string) (Game, error) {
	cfg := DefaultGame()
	if strings.TrimSpace(path) != "" {
		if err := overlayGameFile(&cfg, path); err != nil {
			return Game{}, err
		}
	}
	if err := overlayGameEnv(&cfg); err != nil {
		return Game{}, err
	}
	return cfg, nil
}

func overlayHostFile(cfg *Host, path string) error {
	var raw hostFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load host config: %w", err)
	}
	setString(meta, "name", raw.Name, &cfg.Name)
	setString(meta, "origin", raw.Origin, &cfg.Origin)
	setString(meta, "url", raw.URL, &cfg.URL)
	setString(meta, "transport", strings.ToLower(raw.Transport), &cfg.Transport)
	setString(meta, "game_command", raw.GameCommand, &cfg.GameCommand)
	setString(meta, "window_name", raw.WindowName, &cfg.WindowName)
	setString(meta, "window_features", raw.WindowFeatures, &cfg.WindowFeatures)
	setString(meta, "message_log", raw.MessageLog, &cfg.MessageLog)
	setString(meta, "log_level", raw.LogLevel, &cfg.LogLevel)
	if meta.IsDefined("game_args") {
		cfg.GameArgs = normalizeList(raw.GameArgs)
	}
	if meta.IsDefined("autostart") {
		cfg.Autostart = raw.Autostart
	}
	if err := setDuration(meta, "connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout); err != nil {
		return err
	}
	return setDuration(meta, "write_timeout", raw.WriteTimeout, &cfg.WriteTimeout)
}

func overlayGameFile(cfg *Game, path string) error {
	var raw gameFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load game config: %w", err)
	}
	setString(meta, "name", raw.Name, &cfg.Name)
	setString(meta, "addr", raw.Addr, &cfg.Addr)
	setString(meta, "origin", raw.Origin, &cfg.Origin)
	setString(meta, "path", raw.Path, &cfg.Path)
	setString(meta, "message_log", raw.MessageLog, &cfg.MessageLog)
	setString(meta, "log_level", raw.LogLevel, &cfg.LogLevel)
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("strict_transitions") {
		cfg.StrictTransitions = raw.StrictTransitions
	}
	if meta.IsDefined("score_per_play") {
		cfg.ScorePerPlay = raw.ScorePerPlay
	}
	if err := setDuration(meta, "check_interval", raw.CheckInterval, &cfg.CheckInterval); err != nil {
		return err
	}
	if err := setDuration(meta, "inactive_after", raw.InactiveAfter, &cfg.InactiveAfter); err != nil {
		return err
	}
	return setDuration(meta, "write_timeout", raw.WriteTimeout, &cfg.WriteTimeout)
}

func overlayHostEnv(cfg *Host) error {
	var raw hostEnv
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	setPtr(raw.URL, &cfg.URL)
	setPtr(raw.Origin, &cfg.Origin)
	if raw.Transport != nil {
		v := strings.ToLower(*raw.Transport)
		setPtr(&v, &cfg.Transport)
	}
	if raw.Autostart != nil {
		cfg.Autostart = *raw.Autostart
	}
	setPtr(raw.MessageLog, &cfg.MessageLog)
	setPtr(raw.LogLevel, &cfg.LogLevel)
	return nil
}

func overlayGameEnv(cfg *Game) error {
	var raw gameEnv
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	setPtr(raw.Addr, &cfg.Addr)
	setPtr(raw.Origin, &cfg.Origin)
	setPtr(raw.MessageLog, &cfg.MessageLog)
	setPtr(raw.LogLevel, &cfg.LogLevel)
	if raw.InactiveAfter != nil {
		cfg.InactiveAfter = *raw.InactiveAfter
	}
	if raw.CheckInterval != nil {
		cfg.CheckInterval = *raw.CheckInterval
	}
	return nil
}

func setString(meta toml.MetaData, key, raw string, dst *string) {
	if !meta.IsDefined(key) {
		return
	}
	if v := strings.TrimSpace(raw); v != "" {
		*dst = v
	}
}

func setPtr(raw *string, dst *string) {
	if raw == nil {
		return
	}
	if v := strings.TrimSpace(*raw); v != "" {
		*dst = v
	}
}

func setDuration(meta toml.MetaData, key, raw string, dst *time.Duration) error {
	if !meta.IsDefined(key) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
