package http

import "github.com/layer-3/pairgate/core"

// SessionView is the JSON view of one identity.
// TTL is in seconds; -2 means no record and -1 no expiry.
type SessionView struct {
	Number    string     `json:"number"`
	Exists    bool       `json:"exists"`
	Connected bool       `json:"connected"`
	TTL       int64      `json:"ttl"`
	ExpiresIn string     `json:"expires_in"`
	Phase     core.Phase `json:"phase,omitempty"`
}

func NewSessionView(info core.SessionInfo) SessionView {
	return SessionView{
		Number:    string(info.Identity),
		Exists:    info.Exists,
		Connected: info.Connected,
		TTL:       info.TTLSeconds(),
		ExpiresIn: info.ExpiresIn(),
		Phase:     info.Phase,
	}
}

type ListResponse struct {
	Status   string        `json:"status"`
	Total    int           `json:"total_sessions"`
	Sessions []SessionView `json:"sessions"`
}

type StatsView struct {
	core.Stats
	Timestamp string `json:"timestamp"`
}

// ConnectResponse carries the single answer to a connect request
type ConnectResponse struct {
	Status      string          `json:"status"`
	Number      string          `json:"number"`
	Result      core.ResultKind `json:"result"`
	QRCode      string          `json:"qr_code,omitempty"`
	PairingCode string          `json:"pairing_code,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	Message     string          `json:"message"`
}

func NewConnectResponse(res core.ConnectResult) ConnectResponse {
	out := ConnectResponse{
		Status:      "success",
		Number:      string(res.Identity),
		Result:      res.Kind,
		QRCode:      res.QR,
		PairingCode: res.PairingCode,
		UserID:      res.UserID,
	}

	switch res.Kind {
	case core.ResultQR:
		out.Message = "QR code for " + out.Number + " generated"
	case core.ResultPairingCode:
		out.Message = "pairing code for " + out.Number + " generated"
	case core.ResultConnected:
		out.Message = out.Number + " is connected"
	case core.ResultWaiting:
		out.Status = "pending"
		out.Message = "session for " + out.Number + " is still starting, retry shortly"
	}
	return out
}
