//go:build mock

package main

import (
	"log/slog"

	"github.com/shazow/wifiportal/wifi"
	"github.com/shazow/wifiportal/wifi/mock"
)

// GetRadio returns a simulated radio, for trying the portal on a laptop.
func GetRadio(logger *slog.Logger) (wifi.Radio, error) {
	logger.Info("using simulated radio")
	return mock.New()
}
