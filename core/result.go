package core

// ResultKind identifies which trigger resolved a connect request.
type ResultKind string

const (
	ResultQR          ResultKind = "qr"
	ResultPairingCode ResultKind = "pairing_code"
	ResultConnected   ResultKind = "connected"
	ResultWaiting     ResultKind = "waiting"
	ResultError       ResultKind = "error"
)

// ConnectResult is the single response produced for a connect request.
type ConnectResult struct {
	Kind        ResultKind
	Identity    Identity
	QR          string
	PairingCode string
	UserID      string
	Err         error
}

// IsBootstrap reports whether the result carries a bootstrap credential.
func (r ConnectResult) IsBootstrap() bool {
	return r.Kind == ResultQR || r.Kind == ResultPairingCode
}

// ErrorResult builds an error result for id.
func ErrorResult(id Identity, err error) ConnectResult {
	return ConnectResult{Kind: ResultError, Identity: id, Err: err}
}
