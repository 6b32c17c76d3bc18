package utils

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const timeCursorSeparator = "_"

// ErrInvalidCursor wraps every cursor decoding failure.
var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor creates an opaque keyset cursor from a sort timestamp and row ID.
// A nil ID yields an empty cursor.
func EncodeCursor(t time.Time, id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	cursorData := strconv.FormatInt(t.UnixNano(), 10) + timeCursorSeparator + id.String()
	return base64.RawURLEncoding.EncodeToString([]byte(cursorData))
}

// DecodeCursor is the inverse of EncodeCursor. An empty cursor means "from the
// beginning" and returns zero values without error.
func DecodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	if cursor == "" {
		return time.Time{}, uuid.Nil, nil
	}

	decodedBytes, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("%w: bad base64: %v", ErrInvalidCursor, err)
	}

	valueStr, idStr, ok := strings.Cut(string(decodedBytes), timeCursorSeparator)
	if !ok {
		return time.Time{}, uuid.Nil, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}

	timestampNano, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("%w: bad timestamp: %v", ErrInvalidCursor, err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("%w: bad id: %v", ErrInvalidCursor, err)
	}

	return time.Unix(0, timestampNano).UTC(), id, nil
}
