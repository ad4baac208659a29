//go:build linux && !mock

package main

import (
	"log/slog"

	"github.com/shazow/wifiportal/wifi"
	"github.com/shazow/wifiportal/wifi/iwd"
	"github.com/shazow/wifiportal/wifi/networkmanager"
)

func GetRadio(logger *slog.Logger) (wifi.Radio, error) {
	nm, err := networkmanager.New(logger)
	if err == nil {
		return nm, nil
	}
	logger.Warn("failed to initialize networkmanager radio, falling back to iwd", "error", err)
	r, err := iwd.New(logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}
