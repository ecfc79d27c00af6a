package qr_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"ms-payouts/internal/models"
	"ms-payouts/internal/qr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTicket() models.TicketPayload {
	return models.TicketPayload{
		Amount:          5000,
		UserID:          "user-1",
		EventID:         "event-1",
		Status:          string(models.StatusPending),
		Count:           2,
		PaymentIntentID: "pi_123",
	}
}

func TestDataURL_IsPNG(t *testing.T) {
	gen := qr.NewGenerator("test-secret-key")

	url, err := gen.DataURL(sampleTicket())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestSeal_OpensWithSameSecret(t *testing.T) {
	gen := qr.NewGenerator("test-secret-key")

	token, err := gen.Seal(sampleTicket())
	require.NoError(t, err)

	ticket, err := gen.Open(token)
	require.NoError(t, err)
	assert.Equal(t, sampleTicket(), *ticket)
}

func TestSeal_DiffersEachTime(t *testing.T) {
	gen := qr.NewGenerator("test-secret-key")

	a, err := gen.Seal(sampleTicket())
	require.NoError(t, err)
	b, err := gen.Seal(sampleTicket())
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random IV per token")
}

func TestOpen_RejectsForeignTokens(t *testing.T) {
	gen := qr.NewGenerator("test-secret-key")
	other := qr.NewGenerator("another-secret")

	token, err := other.Seal(sampleTicket())
	require.NoError(t, err)

	_, err = gen.Open(token)
	assert.ErrorIs(t, err, qr.ErrInvalidToken)

	_, err = gen.Open("not base64 !!")
	assert.ErrorIs(t, err, qr.ErrInvalidToken)

	_, err = gen.Open("")
	assert.ErrorIs(t, err, qr.ErrInvalidToken)
}
