//go:build !linux

package main

import (
	"fmt"
	"runtime"

	"memhunt/config"
	"memhunt/process"
)

func liveBackend(cfg *config.Config) (process.Memory, process.Directory, error) {
	return nil, nil, fmt.Errorf("the vm backend needs linux, not %s; use --backend shell or --dump", runtime.GOOS)
}
