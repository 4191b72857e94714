package tools

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
)

// ID accepts a record id sent either as a JSON number or a numeric string.
type ID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("id %s is not an integer", b)
	}
	*id = ID(n)
	return nil
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func requireID(name string, id ID) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s must be a positive integer", ErrInvalidArguments, name)
	}
	return nil
}

// validateEmail rejects anything that is not a bare address.
func validateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q is not a valid email address", ErrInvalidArguments, email)
	}
	return email, nil
}

func schema(s string) json.RawMessage {
	return json.RawMessage(s)
}
