package forum

import (
	"fmt"
	"io"
	"strings"
)

// Text is large body content as it comes off a backend row. Drivers may hand
// out strings, byte slices that are reused after the next Scan, or streaming
// handles; Scan copies all of them into an owned string.
type Text struct {
	s     string
	Valid bool
}

func NewText(s string) Text {
	return Text{s: s, Valid: true}
}

func (t *Text) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = Text{}
	case string:
		*t = NewText(v)
	case []byte:
		*t = NewText(string(v))
	case io.Reader:
		var b strings.Builder
		if _, err := io.Copy(&b, v); err != nil {
			return fmt.Errorf("reading text: %w", err)
		}
		if c, ok := v.(io.Closer); ok {
			if err := c.Close(); err != nil {
				return fmt.Errorf("closing text: %w", err)
			}
		}
		*t = NewText(b.String())
	default:
		return fmt.Errorf("cannot scan %T into Text", src)
	}
	return nil
}

func (t Text) String() string {
	return t.s
}
