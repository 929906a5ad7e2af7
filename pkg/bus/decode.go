package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ErrInvalidUpdate is returned when a raw update is not a JSON object.
var ErrInvalidUpdate = errors.New("raw update must be a JSON object")

// DecodeUpdate converts one raw JSON object into an Update.
//
// The well-known keys id, kind, sender.id, recipient.id and timestamp fill the
// struct fields. The full object, including those keys, becomes Fields.
func DecodeUpdate(raw []byte) (*Update, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidUpdate)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, ErrInvalidUpdate
	}

	fields, ok := root.Value().(map[string]any)
	if !ok {
		return nil, ErrInvalidUpdate
	}

	u := &Update{
		ID:        root.Get("id").String(),
		Kind:      root.Get("kind").String(),
		Sender:    root.Get("sender.id").String(),
		Recipient: root.Get("recipient.id").String(),
		Fields:    Fields(fields),
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Kind == "" && root.Get(textPath).Exists() {
		u.Kind = KindText
	}

	switch ts := root.Get("timestamp"); ts.Type {
	case gjson.Number:
		u.Timestamp = time.UnixMilli(ts.Int()).UTC()
	case gjson.String:
		parsed, err := time.Parse(time.RFC3339, ts.String())
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", ErrInvalidUpdate, err)
		}
		u.Timestamp = parsed.UTC()
	default:
		u.Timestamp = time.Now().UTC()
	}

	return u, nil
}
