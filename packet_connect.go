package mqttcore

import (
	"errors"
)

// CONNECT packet constants.
const (
	protocolName  = "MQTT"
	protocolLevel = 4
)

// Connect flag bit positions.
const (
	connectFlagReserved     = 0x01
	connectFlagCleanSession = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName    = errors.New("invalid protocol name")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol level")
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
	ErrClientIDRequired       = errors.New("client ID required without clean session")
	ErrPasswordWithoutUser    = errors.New("password requires a username")
)

// ConnectPacket represents an MQTT v3.1.1 CONNECT packet.
type ConnectPacket struct {
	// ClientID is the client identifier.
	ClientID string

	// CleanSession asks the broker to discard any previous session.
	CleanSession bool

	// KeepAlive is the keep alive interval in seconds.
	KeepAlive uint16

	// Username for authentication. Empty means no username.
	Username string

	// Password for authentication. Nil means no password.
	Password []byte

	// Will message configuration.
	WillFlag    bool
	WillRetain  bool
	WillQoS     byte
	WillTopic   string
	WillPayload []byte
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType {
	return PacketCONNECT
}

func (p *ConnectPacket) flags() byte { return 0 }

// connectFlags returns the connect flags byte.
func (p *ConnectPacket) connectFlags() byte {
	var flags byte

	if p.CleanSession {
		flags |= connectFlagCleanSession
	}

	if p.WillFlag {
		flags |= connectFlagWillFlag
		flags |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}

	if p.Password != nil {
		flags |= connectFlagPasswordFlag
	}

	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}

	return flags
}

func (p *ConnectPacket) bodyLen() int {
	n := stringSize(len(protocolName)) + 1 + 1 + 2
	n += stringSize(len(p.ClientID))
	if p.WillFlag {
		n += stringSize(len(p.WillTopic)) + stringSize(len(p.WillPayload))
	}
	if p.Username != "" {
		n += stringSize(len(p.Username))
	}
	if p.Password != nil {
		n += stringSize(len(p.Password))
	}
	return n
}

func (p *ConnectPacket) encodeBody(w *writer) error {
	if err := w.writeString(protocolName); err != nil {
		return err
	}
	w.writeByte(protocolLevel)
	w.writeByte(p.connectFlags())
	w.writeUint16(p.KeepAlive)

	if err := w.writeString(p.ClientID); err != nil {
		return err
	}

	if p.WillFlag {
		if err := w.writeString(p.WillTopic); err != nil {
			return err
		}
		if err := w.writeBinary(p.WillPayload); err != nil {
			return err
		}
	}

	if p.Username != "" {
		if err := w.writeString(p.Username); err != nil {
			return err
		}
	}

	if p.Password != nil {
		if err := w.writeBinary(p.Password); err != nil {
			return err
		}
	}

	return nil
}

func (p *ConnectPacket) decode(r *reader, _ FixedHeader) error {
	name, err := r.readString()
	if err != nil {
		return err
	}
	if name != protocolName {
		return ErrInvalidProtocolName
	}

	level, err := r.readByte()
	if err != nil {
		return err
	}
	if level != protocolLevel {
		return ErrInvalidProtocolVersion
	}

	flags, err := r.readByte()
	if err != nil {
		return err
	}
	if flags&connectFlagReserved != 0 {
		return ErrInvalidConnectFlags
	}

	p.CleanSession = flags&connectFlagCleanSession != 0
	p.WillFlag = flags&connectFlagWillFlag != 0
	p.WillQoS = (flags >> 3) & 0x03
	p.WillRetain = flags&connectFlagWillRetain != 0

	if p.KeepAlive, err = r.readUint16(); err != nil {
		return err
	}

	if p.ClientID, err = r.readString(); err != nil {
		return err
	}

	if p.WillFlag {
		if p.WillTopic, err = r.readString(); err != nil {
			return err
		}
		if p.WillPayload, err = r.readBinary(); err != nil {
			return err
		}
	}

	if flags&connectFlagUsernameFlag != 0 {
		if p.Username, err = r.readString(); err != nil {
			return err
		}
	}

	if flags&connectFlagPasswordFlag != 0 {
		if p.Password, err = r.readBinary(); err != nil {
			return err
		}
		if p.Password == nil {
			p.Password = []byte{}
		}
	}

	return nil
}

// Validate validates the packet contents. Each length-prefixed field is
// checked on its own so the first oversized field is reported.
func (p *ConnectPacket) Validate() error {
	if len(p.ClientID) > maxUint16 {
		return errors.Join(ErrInvalidClientID, ErrFieldTooLong)
	}

	if p.ClientID == "" && !p.CleanSession {
		return ErrClientIDRequired
	}

	if p.WillFlag {
		if len(p.WillTopic) > maxUint16 || len(p.WillPayload) > maxUint16 {
			return ErrFieldTooLong
		}
		if p.WillQoS > 2 {
			return ErrInvalidConnectFlags
		}
		if err := checkTopicName(p.WillTopic); err != nil {
			return err
		}
	} else if p.WillQoS != 0 || p.WillRetain {
		return ErrInvalidConnectFlags
	}

	if len(p.Username) > maxUint16 || len(p.Password) > maxUint16 {
		return ErrFieldTooLong
	}

	if p.Password != nil && p.Username == "" {
		return ErrPasswordWithoutUser
	}

	return nil
}
