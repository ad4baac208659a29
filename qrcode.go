package main

import (
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// EscapeWifiString handles the special character escaping for SSID and Password.
func EscapeWifiString(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`;`, `\;`,
		`,`, `\,`,
		`:`, `\:`,
		`"`, `\"`,
	)
	return r.Replace(s)
}

// WifiURI is the "WIFI:" payload phone cameras understand for joining a
// network. An empty passphrase describes an open network.
func WifiURI(ssid, passphrase string) string {
	var b strings.Builder
	b.WriteString("WIFI:S:")
	b.WriteString(EscapeWifiString(ssid))
	b.WriteString(";")
	if passphrase == "" {
		b.WriteString("T:nopass;")
	} else {
		b.WriteString("T:WPA;P:")
		b.WriteString(EscapeWifiString(passphrase))
		b.WriteString(";")
	}
	b.WriteString(";")
	return b.String()
}

// GenerateWifiQRCode renders the join code for the provisioning network as
// terminal block characters.
func GenerateWifiQRCode(ssid, passphrase string) (string, error) {
	q, err := qrcode.New(WifiURI(ssid, passphrase), qrcode.Medium)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
