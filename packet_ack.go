package mqttcore

import (
	"errors"
)

// ErrInvalidPacketID is returned for a zero packet identifier where one is required.
var ErrInvalidPacketID = errors.New("invalid packet identifier")

// ackBodyLen is the remaining length of the identifier-only packets
// (PUBACK, PUBREC, PUBREL, PUBCOMP, UNSUBACK).
const ackBodyLen = 2

// decodeAckID reads the packet identifier of an identifier-only packet.
func decodeAckID(r *reader) (uint16, error) {
	id, err := r.readUint16()
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, ErrInvalidPacketID
	}
	return id, nil
}

// validateAckID checks the identifier of an identifier-only packet.
func validateAckID(id uint16) error {
	if id == 0 {
		return ErrInvalidPacketID
	}
	return nil
}
