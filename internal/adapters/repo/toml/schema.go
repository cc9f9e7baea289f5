package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version    int              `toml:"version"`
	Bot        botSchema        `toml:"bot"`
	Listener   listenerSchema   `toml:"listener"`
	Checkpoint checkpointSchema `toml:"checkpoint"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported runtime schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type botSchema struct {
	ID          string `toml:"id"`
	StartedAt   string `toml:"started_at"`
	LastLoginAt string `toml:"last_login_at,omitempty"`
	Restarts    int64  `toml:"restarts"`
	Encrypted   bool   `toml:"encrypted"`
}

type listenerSchema struct {
	ID             string `toml:"id,omitempty"`
	LastRotationAt string `toml:"last_rotation_at,omitempty"`
	Rotations      int64  `toml:"rotations"`
}

type checkpointSchema struct {
	LastAt    string `toml:"last_at,omitempty"`
	LastError string `toml:"last_error,omitempty"`
}
