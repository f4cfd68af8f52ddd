package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	gotoml "github.com/pelletier/go-toml/v2"
)

const (
	KindHost = "host"
	KindGame = "game"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHost:
		return hostTemplate, nil
	case KindGame:
		return gameTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Check strictly decodes the file at path, rejecting keys that the loader
// would silently ignore, then loads and validates it.
func Check(path, kind string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHost:
		var raw hostFile
		if err := strictDecode(data, &raw); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		cfg, err := LoadHost(path)
		if err != nil {
			return err
		}
		return ValidateHost(cfg)
	case KindGame:
		var raw gameFile
		if err := strictDecode(data, &raw); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		cfg, err := LoadGame(path)
		if err != nil {
			return err
		}
		return ValidateGame(cfg)
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func strictDecode(data []byte, out any) error {
	dec := gotoml.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *gotoml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strict.String())
		}
		return err
	}
	return nil
}

const hostTemplate = `name = "hostctl"
origin = "http://127.0.0.1:8080"
url = "/game"
transport = "websocket"
game_command = "gamectl"
game_args = []
window_name = "remotectl"
window_features = "resizable,popup"
autostart = true
message_log = ""
log_level = "info"
connect_timeout = "5s"
write_timeout = "15s"
`

const gameTemplate = `name = "gamectl"
addr = "127.0.0.1:8080"
origin = "http://127.0.0.1:8080"
path = "/game"
cors_origins = []
check_interval = "5m"
inactive_after = "300s"
strict_transitions = false
score_per_play = 10.0
message_log = ""
log_level = "info"
write_timeout = "15s"
`
