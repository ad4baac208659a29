package httpapi

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/shazow/wifiportal/portal"
	"github.com/shazow/wifiportal/wifi"
)

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var (
		result wifi.ScanResult
		err    error
	)
	if !s.do(w, r, func(p *portal.Portal) { result, err = p.Scan() }) {
		return
	}
	if err != nil {
		s.logger.Warn("scan failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	resp := ScanResponse{AccessPoints: []AccessPoint{}}
	for _, n := range result.Selectable() {
		resp.AccessPoints = append(resp.AccessPoints, AccessPoint{
			SSID:      n.SSID,
			Quality:   n.Quality,
			Encrypted: n.Encrypted,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var st portal.Status
	if !s.do(w, r, func(p *portal.Portal) { st = p.Status() }) {
		return
	}
	ssid := st.StationSSID
	if ssid == "" {
		ssid = st.StoredSSID
	}
	writeJSON(w, http.StatusOK, InfoResponse{
		Mode:        st.Mode.String(),
		SoftAPIP:    addrString(st.AccessPointAddr),
		StationIP:   addrString(st.StationAddr),
		SSID:        ssid,
		Password:    st.HasPassphrase,
		LastOutcome: st.LastOutcome.String(),
		LastError:   st.LastError,
		Remaining:   int64(st.Remaining.Seconds()),
	})
}

// handleSave takes the credentials in form fields s and p. Any other fields
// are offered to the portal as custom parameters.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	creds := wifi.Credentials{
		SSID:       r.PostForm.Get("s"),
		Passphrase: r.PostForm.Get("p"),
	}
	if err := creds.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	params := map[string]string{}
	for k := range r.PostForm {
		if k != "s" && k != "p" {
			params[k] = r.PostForm.Get(k)
		}
	}

	if !s.do(w, r, func(p *portal.Portal) {
		p.SubmitParameters(params)
		p.SubmitCredentials(creds.SSID, creds.Passphrase)
	}) {
		return
	}
	s.logger.Info("credentials submitted", "ssid", creds.SSID)
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "connecting", SSID: creds.SSID})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	s.portal.RequestClose()
	writeJSON(w, http.StatusOK, StatusResponse{Status: "closing"})
}

func (s *Server) handleIPStatus(w http.ResponseWriter, r *http.Request) {
	var st portal.Status
	if !s.do(w, r, func(p *portal.Portal) { st = p.Status() }) {
		return
	}
	info := IPInfo{IPType: ipTypeDHCP, IP: addrString(st.StationAddr)}
	if cfg := st.IPConfig; cfg != nil {
		info = IPInfo{
			IP:      cfg.Address.String(),
			Netmask: cfg.Netmask.String(),
			Gateway: cfg.Gateway.String(),
			IPType:  ipTypeStatic,
		}
	}
	writeJSON(w, http.StatusOK, IPStatusResponse{IPInfo: info})
}

// handleIPChange switches the station between DHCP (type=dhcp) and static
// addressing (type=static with ip, netmask and gateway).
func (s *Server) handleIPChange(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var cfg *wifi.StaticIPConfig
	switch strings.ToLower(r.PostForm.Get("type")) {
	case "dhcp":
	case "static":
		parsed, err := wifi.ParseStaticIPConfig(r.PostForm.Get("ip"), r.PostForm.Get("netmask"), r.PostForm.Get("gateway"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg = &parsed
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("type must be dhcp or static"))
		return
	}

	var err error
	if !s.do(w, r, func(p *portal.Portal) { err = p.ChangeIPConfig(cfg) }) {
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	ipType := ipTypeDHCP
	if cfg != nil {
		ipType = ipTypeStatic
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: ipType})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var err error
	if !s.do(w, r, func(p *portal.Portal) { err = p.Reset() }) {
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "reset"})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	lines := s.logs()
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, LogResponse{Logs: lines})
}
