package utils

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)
	id := uuid.New()

	cursor := EncodeCursor(ts, id)
	require.NotEmpty(t, cursor)

	gotTime, gotID, err := DecodeCursor(cursor)
	require.NoError(t, err)
	assert.True(t, ts.Equal(gotTime))
	assert.Equal(t, id, gotID)
}

func TestEncodeCursor_NilID(t *testing.T) {
	assert.Empty(t, EncodeCursor(time.Now(), uuid.Nil))
}

func TestDecodeCursor_Empty(t *testing.T) {
	ts, id, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
	assert.Equal(t, uuid.Nil, id)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	enc := base64.RawURLEncoding.EncodeToString

	tests := map[string]string{
		"not base64":     "%%%",
		"no separator":   enc([]byte("12345")),
		"bad timestamp":  enc([]byte("abc_" + uuid.NewString())),
		"bad id":         enc([]byte("12345_not-a-uuid")),
		"trailing empty": enc([]byte("12345_")),
	}
	for name, cursor := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := DecodeCursor(cursor)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}
