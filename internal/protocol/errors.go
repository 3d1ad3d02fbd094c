package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Server state.
	ErrServerBusy = "E_SERVER_BUSY"
	ErrInternal   = "E_INTERNAL"

	// Weather state.
	ErrBadPattern = "E_BAD_PATTERN"
	ErrBadRegion  = "E_BAD_REGION"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrServerBusy:      {},
	ErrInternal:        {},
	ErrBadPattern:      {},
	ErrBadRegion:       {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
