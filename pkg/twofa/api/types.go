package api

type statusResponse struct {
	Enabled        bool   `json:"enabled"`
	Verified       bool   `json:"verified"`
	HasSecret      bool   `json:"hasSecret"`
	HasBackupCodes bool   `json:"hasBackupCodes"`
	ErrorKind      string `json:"errorKind,omitempty"`
}

type setupResponse struct {
	State       string   `json:"state"`
	Error       string   `json:"error,omitempty"`
	Secret      string   `json:"secret,omitempty"`
	QRCode      string   `json:"qrCode,omitempty"`
	BackupCodes []string `json:"backupCodes,omitempty"`
}

type challengeResponse struct {
	Mode     string `json:"mode"`
	Verified bool   `json:"verified"`
	Token    string `json:"token,omitempty"`
	Error    string `json:"error,omitempty"`
}

type codeRequest struct {
	Value string `json:"value"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

type errorResponse struct {
	Error string `json:"error"`
}
