package connector

type sshDialer struct{}

// NewDialer returns the default SSH dialer.
func NewDialer() Dialer {
	return &sshDialer{}
}

func (d *sshDialer) Dial(cfg Config) (Connection, error) {
	return NewConnection(cfg)
}

var _ Dialer = (*sshDialer)(nil)
