package postgres

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/cronback-oss/cronback/internal/errs"
)

// cursor is the opaque pagination token: a (timestamp, id) keyset position,
// base64-JSON encoded — the same shape as the teacher's
// encodeScheduleCursor/decodeScheduleCursor pair, generalized to any table
// ordered by (timestamp DESC, id DESC). The timestamp is created_at for
// trigger listings and scheduled_at for run listings.
type cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func encodeCursor(createdAt time.Time, id string) string {
	b, _ := json.Marshal(cursor{CreatedAt: createdAt, ID: id})
	return base64.URLEncoding.EncodeToString(b)
}

func decodeCursor(s string) (cursor, error) {
	if s == "" {
		return cursor{}, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, errs.Wrap(errs.KindValidationFailed, "malformed pagination cursor", err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, errs.Wrap(errs.KindValidationFailed, "malformed pagination cursor", err)
	}
	return c, nil
}
