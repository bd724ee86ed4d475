package smtp

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/go-otp-auth/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEmail_BuildsMessage(t *testing.T) {
	m := NewMailer(&config.Config{SMTPHost: "mail.test", SMTPPort: "587", SMTPFrom: "noreply@test"}).(*mailer)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	require.NoError(t, m.SendEmail(context.Background(), "a@b.com", "Your Login OTP", "Your OTP is: 123456"))
	assert.Equal(t, "mail.test:587", gotAddr)
	assert.Nil(t, gotAuth)
	assert.Equal(t, "noreply@test", gotFrom)
	assert.Equal(t, []string{"a@b.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Your Login OTP\r\n")
	assert.Contains(t, string(gotMsg), "Your OTP is: 123456")
}

func TestSendEmail_CancelledContext(t *testing.T) {
	m := NewMailer(&config.Config{}).(*mailer)
	called := false
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.SendEmail(ctx, "a@b.com", "s", "b"))
	assert.False(t, called)
}
