//go:build linux

package main

import (
	"fmt"

	"memhunt/config"
	"memhunt/process"
	"memhunt/process_linux"
)

func liveBackend(cfg *config.Config) (process.Memory, process.Directory, error) {
	if cfg.Access.Backend != "" && cfg.Access.Backend != "vm" {
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Access.Backend)
	}
	return process_linux.New(), process_linux.Directory{}, nil
}
