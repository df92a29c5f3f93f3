package cursor_test

import (
	"testing"

	"github.com/shannynalayna/grid/internal/cursor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := cursor.New("widget", "schema|svc1")

	token, err := cursor.Encode(original)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decoded, err := cursor.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeInvalidTokens(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "Пустой токен", token: ""},
		{name: "Не base64", token: "не-base64!!!"},
		{name: "Base64, но не JSON", token: "bm90LWpzb24="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cursor.Decode(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestValidateFilterHash(t *testing.T) {
	t.Run("Тот же фильтр проходит", func(t *testing.T) {
		c := cursor.New("widget", "schema|svc1")
		assert.NoError(t, cursor.ValidateFilterHash(c, "schema|svc1"))
	})

	t.Run("Смена фильтра инвалидирует токен", func(t *testing.T) {
		c := cursor.New("widget", "schema|svc1")
		assert.Error(t, cursor.ValidateFilterHash(c, "schema|svc2"))
	})

	t.Run("Пустой фильтр", func(t *testing.T) {
		c := cursor.New("widget", "")
		assert.Empty(t, c.FilterHash)
		assert.NoError(t, cursor.ValidateFilterHash(c, ""))
		assert.Error(t, cursor.ValidateFilterHash(c, "organization|"))
	})
}

func TestHashFilterStability(t *testing.T) {
	// Хеш детерминирован и короткий (8 байт в hex)
	first := cursor.HashFilter("organization|svc1")
	second := cursor.HashFilter("organization|svc1")

	assert.Equal(t, first, second)
	assert.Len(t, first, 16)
	assert.NotEqual(t, first, cursor.HashFilter("organization|svc2"))
}
