package session

import "errors"

// Gate outcomes. All of these are expected, caller-recoverable rejections;
// anything else bubbling out of the service is a store failure.
var (
	ErrInvalidInput    = errors.New("invalid_input")
	ErrNotFound        = errors.New("not_found")
	ErrExpired         = errors.New("expired")
	ErrEnded           = errors.New("ended")
	ErrTokenInvalid    = errors.New("token_invalid")
	ErrDuplicateMatric = errors.New("duplicate_matric")
	ErrDuplicateDevice = errors.New("duplicate_device")
)

// RejectKind maps a gate error to its wire name, or "" when err is not a
// classified rejection (i.e. store_unavailable territory).
func RejectKind(err error) string {
	for _, e := range []error{
		ErrInvalidInput, ErrNotFound, ErrExpired, ErrEnded,
		ErrTokenInvalid, ErrDuplicateMatric, ErrDuplicateDevice,
	} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return ""
}
