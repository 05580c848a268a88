package protocol

import (
	"errors"

	"github.com/layer-3/pairgate/core"
)

// Frame types exchanged with the protocol sidecar
const (
	frameStart              = "start"
	frameRequestPairingCode = "request_pairing_code"
	frameConnectionUpdate   = "connection.update"
	frameCredsUpdate        = "creds.update"
	framePairingCode        = "pairing_code"
)

// frame is the JSON envelope of the bridge wire format
type frame struct {
	Type       string           `json:"type"`
	ID         string           `json:"id,omitempty"`
	Identity   string           `json:"identity,omitempty"`
	Phone      string           `json:"phone,omitempty"`
	Credential *core.Credential `json:"credential,omitempty"`
	Connection string           `json:"connection,omitempty"`
	QR         string           `json:"qr,omitempty"`
	Code       string           `json:"code,omitempty"`
	Reason     int              `json:"reason,omitempty"`
	Error      string           `json:"error,omitempty"`
	UserID     string           `json:"user_id,omitempty"`
	UserName   string           `json:"user_name,omitempty"`
}

func (f frame) connectionUpdate() *core.ConnectionUpdate {
	update := &core.ConnectionUpdate{
		State:  core.ConnState(f.Connection),
		QR:     f.QR,
		Reason: core.DisconnectReason(f.Reason),
	}
	if f.Error != "" {
		update.Err = errors.New(f.Error)
	}
	// only a close we asked for is clean; the sidecar reporting one without a code is a lost connection
	if update.State == core.StateClose && update.Reason == core.ReasonNone {
		update.Reason = core.ReasonConnectionLost
	}
	if f.UserID != "" {
		update.Account = &core.Account{ID: f.UserID, Name: f.UserName}
	}
	return update
}
