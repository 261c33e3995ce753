package account

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPosition(quantity, available string) *Position {
	return &Position{
		UserID:            uuid.New(),
		Symbol:            "AAPL",
		Quantity:          dec(quantity),
		AvailableQuantity: dec(available),
		Version:           1,
	}
}

func TestPosition_ReserveShares(t *testing.T) {
	t.Run("SufficientShares", func(t *testing.T) {
		pos := newTestPosition("100", "100")

		result, err := pos.ReserveShares(dec("40"))

		require.NoError(t, err)
		assert.True(t, result.Succeeded())
		assert.NotEqual(t, uuid.Nil, result.ReservationID)
		assert.True(t, pos.Quantity.Equal(dec("100")), "Quantity must be untouched by a hold")
		assert.True(t, pos.AvailableQuantity.Equal(dec("60")))
		assert.Equal(t, 2, pos.Version)
	})

	t.Run("InsufficientShares", func(t *testing.T) {
		pos := newTestPosition("100", "30")

		result, err := pos.ReserveShares(dec("40"))

		require.NoError(t, err)
		assert.False(t, result.Succeeded())
		assert.Equal(t, ShareReserveOutcomeInsufficientShares, result.Outcome)
		assert.True(t, result.Available.Equal(dec("30")))
		assert.True(t, pos.AvailableQuantity.Equal(dec("30")))
		assert.Equal(t, 1, pos.Version)
	})

	t.Run("NonPositiveQuantity", func(t *testing.T) {
		pos := newTestPosition("100", "100")

		_, err := pos.ReserveShares(dec("0"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestPosition_ConfirmShares(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		pos := newTestPosition("100", "60") // 40 held

		err := pos.ConfirmShares(dec("40"))

		require.NoError(t, err)
		assert.True(t, pos.Quantity.Equal(dec("60")))
		assert.True(t, pos.AvailableQuantity.Equal(dec("60")))
	})

	t.Run("WithoutMatchingHold", func(t *testing.T) {
		pos := newTestPosition("100", "100")

		err := pos.ConfirmShares(dec("40"))

		assert.ErrorIs(t, err, ErrInvariantViolation)
		assert.True(t, pos.Quantity.Equal(dec("100")))
	})
}

func TestPosition_CreditShares(t *testing.T) {
	pos := newTestPosition("10", "10")

	err := pos.CreditShares(dec("5"))

	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(dec("15")))
	assert.True(t, pos.AvailableQuantity.Equal(dec("15")))
}

func TestPosition_ReleaseShares(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		pos := newTestPosition("100", "60") // 40 held

		err := pos.ReleaseShares(dec("40"))

		require.NoError(t, err)
		assert.True(t, pos.Quantity.Equal(dec("100")))
		assert.True(t, pos.AvailableQuantity.Equal(dec("100")))
	})

	t.Run("MoreThanHeld", func(t *testing.T) {
		pos := newTestPosition("100", "90")

		err := pos.ReleaseShares(dec("20"))

		assert.ErrorIs(t, err, ErrInvariantViolation)
		assert.True(t, pos.AvailableQuantity.Equal(dec("90")))
	})
}
