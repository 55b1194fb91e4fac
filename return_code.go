package mqttcore

// ConnectReturnCode is the result carried by a CONNACK packet.
type ConnectReturnCode byte

// CONNACK return codes.
const (
	// Connection accepted
	ConnectAccepted ConnectReturnCode = 0x00
	// The server does not support the requested protocol level
	ConnectRefusedProtocolVersion ConnectReturnCode = 0x01
	// The client identifier is correct UTF-8 but not allowed by the server
	ConnectRefusedIdentifierRejected ConnectReturnCode = 0x02
	// The network connection has been made but the MQTT service is unavailable
	ConnectRefusedServerUnavailable ConnectReturnCode = 0x03
	// The data in the user name or password is malformed
	ConnectRefusedBadUsernameOrPassword ConnectReturnCode = 0x04
	// The client is not authorized to connect
	ConnectRefusedNotAuthorized ConnectReturnCode = 0x05
)

// String returns the string representation of the return code.
func (c ConnectReturnCode) String() string {
	switch c {
	case ConnectAccepted:
		return "connection accepted"
	case ConnectRefusedProtocolVersion:
		return "unacceptable protocol version"
	case ConnectRefusedIdentifierRejected:
		return "identifier rejected"
	case ConnectRefusedServerUnavailable:
		return "server unavailable"
	case ConnectRefusedBadUsernameOrPassword:
		return "bad user name or password"
	case ConnectRefusedNotAuthorized:
		return "not authorized"
	default:
		return "unknown return code"
	}
}

// Accepted reports whether the broker accepted the connection.
func (c ConnectReturnCode) Accepted() bool {
	return c == ConnectAccepted
}

// Valid reports whether the code is defined by MQTT v3.1.1.
func (c ConnectReturnCode) Valid() bool {
	return c <= ConnectRefusedNotAuthorized
}

// SUBACK return codes. Codes 0 to 2 are the granted QoS.
const (
	SubackGrantedQoS0 byte = 0x00
	SubackGrantedQoS1 byte = 0x01
	SubackGrantedQoS2 byte = 0x02
	SubackFailure     byte = 0x80
)

// validSubackCode reports whether b is a legal SUBACK return code.
func validSubackCode(b byte) bool {
	return b <= SubackGrantedQoS2 || b == SubackFailure
}
