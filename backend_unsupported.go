//go:build !linux && !mock

package main

import (
	"fmt"
	"log/slog"

	"github.com/shazow/wifiportal/wifi"
)

// GetRadio returns an error for unsupported operating systems.
func GetRadio(logger *slog.Logger) (wifi.Radio, error) {
	return nil, fmt.Errorf("unsupported operating system: %w", wifi.ErrNotSupported)
}
