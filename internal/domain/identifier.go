package domain

// IdentifierType tells which delivery channel an identifier belongs to.
type IdentifierType string

const (
	IdentifierUnknown IdentifierType = ""
	IdentifierEmail   IdentifierType = "email"
	IdentifierPhone   IdentifierType = "phone"
)

// Channel is an out-of-band delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Channel maps the identifier type to the channel its codes travel over.
func (t IdentifierType) Channel() Channel {
	if t == IdentifierPhone {
		return ChannelSMS
	}
	return ChannelEmail
}
