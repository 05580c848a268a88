package ports

// Operator is the authenticated caller of the control surface
type Operator struct {
	Subject string
	Scope   string
}

// Tokenizer issues and verifies operator access tokens
type Tokenizer interface {
	Issue(subject, scope string) (string, error)
	Verify(token string) (Operator, error)
}
