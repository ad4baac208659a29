package httpapi

// Field names follow the firmware endpoints that existing setup pages
// already consume.

type ErrorResponse struct {
	Error string `json:"Error"`
}

type AccessPoint struct {
	SSID      string `json:"SSID"`
	Quality   int    `json:"Quality"`
	Encrypted bool   `json:"Encrypted"`
}

type ScanResponse struct {
	AccessPoints []AccessPoint `json:"Access_Points"`
}

type InfoResponse struct {
	Mode        string `json:"Mode"`
	SoftAPIP    string `json:"Soft_AP_IP"`
	StationIP   string `json:"Station_IP"`
	SSID        string `json:"SSID"`
	Password    bool   `json:"Password"`
	LastOutcome string `json:"Last_Outcome"`
	LastError   string `json:"Last_Error,omitempty"`
	Remaining   int64  `json:"Remaining_Seconds"`
}

type IPInfo struct {
	IP      string `json:"IP"`
	Netmask string `json:"Netmask"`
	Gateway string `json:"Gateway"`
	IPType  string `json:"IP_Type"`
}

type IPStatusResponse struct {
	IPInfo IPInfo `json:"IP_Info"`
}

type StatusResponse struct {
	Status string `json:"Status"`
	SSID   string `json:"SSID,omitempty"`
}

type LogResponse struct {
	Logs []string `json:"Logs"`
}

const (
	ipTypeStatic = "STATIC"
	ipTypeDHCP   = "DHCP"
)
