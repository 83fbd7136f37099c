package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"keepalive_engine/internal/model"
)

type capturedMail struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	err      error
}

func (c *capturedMail) send(_ context.Context, _ EmailSettings, msg *gomail.Message) error {
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, msg.GetHeader("Subject")...)
	c.bodies = append(c.bodies, buf.String())
	return c.err
}

func validEmailSettings() EmailSettings {
	return EmailSettings{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     465,
		Username: "ops@example.com",
		Password: "secret",
		To:       []string{"oncall@example.com"},
	}
}

func sampleRun() model.RunSummary {
	start := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	return model.RunSummary{
		RunID:          "run-1",
		StartedAt:      start,
		FinishedAt:     start.Add(3 * time.Minute),
		Total:          3,
		SuccessCount:   2,
		FailedAccounts: []string{"B"},
		Duration:       3 * time.Minute,
		Results: []model.AccountResult{
			{AccountID: 1, Name: "A", Outcome: model.OutcomeSuccess, Duration: time.Minute},
			{AccountID: 2, Name: "B", Outcome: model.OutcomeFailure, Reason: "element not found", Duration: time.Minute},
			{AccountID: 3, Name: "C", Outcome: model.OutcomeSuccess, Duration: time.Minute},
		},
	}
}

func TestEmailNotifier_SendsSummaryOnClose(t *testing.T) {
	c := &capturedMail{}
	n := newEmailNotifier(validEmailSettings(), nil, c.send)

	require.NoError(t, n.OnRunFinished(context.Background(), sampleRun()))
	require.NoError(t, n.Close(context.Background()))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.subjects, 1)
	assert.Equal(t, "keepalive: 2/3 succeeded, failed: B", c.subjects[0])
	assert.Contains(t, c.bodies[0], "element not found")
}

func TestEmailNotifier_DisabledAndOnlyOnFailure(t *testing.T) {
	c := &capturedMail{}
	s := validEmailSettings()
	s.Enabled = false
	n := newEmailNotifier(s, nil, c.send)
	require.NoError(t, n.OnRunFinished(context.Background(), sampleRun()))
	require.NoError(t, n.Close(context.Background()))

	s = validEmailSettings()
	s.OnlyOnFailure = true
	n = newEmailNotifier(s, nil, c.send)
	clean := sampleRun()
	clean.FailedAccounts = nil
	clean.SuccessCount = 3
	require.NoError(t, n.OnRunFinished(context.Background(), clean))
	require.NoError(t, n.Close(context.Background()))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.subjects)
}

func TestEmailNotifier_SendFailureIsNotFatal(t *testing.T) {
	c := &capturedMail{err: errors.New("connection refused")}
	n := newEmailNotifier(validEmailSettings(), nil, c.send)
	require.NoError(t, n.OnRunFinished(context.Background(), sampleRun()))
	require.NoError(t, n.Close(context.Background()))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.subjects, 1)
}

func TestEmailSettings_Validate(t *testing.T) {
	s := validEmailSettings()
	require.NoError(t, s.Validate())

	s.To = nil
	require.Error(t, s.Validate())

	s = validEmailSettings()
	s.Password = ""
	require.Error(t, s.Validate())
}

func TestSMTPConfigForEmail(t *testing.T) {
	host, port, ssl, err := smtpConfigForEmail("someone@qq.com")
	require.NoError(t, err)
	assert.Equal(t, "smtp.qq.com", host)
	assert.Equal(t, 465, port)
	assert.True(t, ssl)

	host, port, ssl, err = smtpConfigForEmail("someone@corp.example")
	require.NoError(t, err)
	assert.Equal(t, "smtp.corp.example", host)
	assert.Equal(t, 465, port)
	assert.True(t, ssl)

	_, _, _, err = smtpConfigForEmail("not-an-address")
	require.Error(t, err)
}
