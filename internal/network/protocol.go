package network

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/race/endless/internal/game"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Protocol handles binary encoding/decoding
type Protocol struct{}

// NewProtocol creates a new protocol handler
func NewProtocol() *Protocol {
	return &Protocol{}
}

// DecodeInput decodes a client input message (6 bytes)
func (p *Protocol) DecodeInput(data []byte) (*InputMessage, error) {
	if len(data) < InputSize {
		return nil, ErrBufferTooSmall
	}
	if data[0] != MsgTypeInput {
		return nil, ErrInvalidMessage
	}

	return &InputMessage{
		MsgType:  data[0],
		Sequence: data[1],
		Keys:     data[2],
		Steering: int8(data[3]),
		Throttle: int8(data[4]),
		Flags:    data[5],
	}, nil
}

// EncodeInput encodes a client input message. Used by headless clients.
func (p *Protocol) EncodeInput(msg InputMessage) []byte {
	return []byte{
		MsgTypeInput,
		msg.Sequence,
		msg.Keys,
		uint8(msg.Steering),
		uint8(msg.Throttle),
		msg.Flags,
	}
}

// DecodeJoin decodes a join message. A bare type byte joins with a server-chosen seed.
func (p *Protocol) DecodeJoin(data []byte) (*JoinMessage, error) {
	if len(data) < 1 {
		return nil, ErrBufferTooSmall
	}
	if data[0] != MsgTypeJoinSession {
		return nil, ErrInvalidMessage
	}

	msg := &JoinMessage{MsgType: data[0]}
	switch {
	case len(data) == 1:
	case len(data) < 9:
		return nil, ErrBufferTooSmall
	default:
		msg.HasSeed = true
		msg.Seed = binary.LittleEndian.Uint64(data[1:9])
	}
	return msg, nil
}

// DecodePing decodes a ping message carrying the client timestamp
func (p *Protocol) DecodePing(data []byte) (*PingMessage, error) {
	if len(data) < PingSize {
		return nil, ErrBufferTooSmall
	}
	if data[0] != MsgTypePing {
		return nil, ErrInvalidMessage
	}
	return &PingMessage{
		MsgType:   data[0],
		Timestamp: binary.LittleEndian.Uint64(data[1:9]),
	}, nil
}

// EncodeSnapshot encodes a snapshot message.
// Header: 15 bytes, then 33 bytes per entity. Entities past MaxEntities are dropped.
func (p *Protocol) EncodeSnapshot(msg SnapshotMessage) []byte {
	count := len(msg.Entities)
	if count > MaxEntities {
		count = MaxEntities
	}

	buf := make([]byte, SnapshotHeaderSize+count*EntityStateSize)
	buf[0] = MsgTypeSnapshot
	binary.LittleEndian.PutUint32(buf[1:5], msg.Frame)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(msg.Score))
	binary.LittleEndian.PutUint32(buf[9:13], math.Float32bits(msg.Speed))
	binary.LittleEndian.PutUint16(buf[13:15], uint16(count))

	offset := SnapshotHeaderSize
	for i := 0; i < count; i++ {
		p.encodeEntity(buf[offset:], msg.Entities[i])
		offset += EntityStateSize
	}

	return buf
}

// encodeEntity encodes a single entity (33 bytes)
func (p *Protocol) encodeEntity(buf []byte, e EntityState) {
	binary.LittleEndian.PutUint32(buf[0:4], e.ID)
	buf[4] = e.Kind

	off := 5
	for _, v := range e.Position {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
		off += 4
	}
	for _, v := range e.Rotation {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
		off += 4
	}
}

// DecodeSnapshot decodes a snapshot message
func (p *Protocol) DecodeSnapshot(data []byte) (*SnapshotMessage, error) {
	if len(data) < SnapshotHeaderSize {
		return nil, ErrBufferTooSmall
	}
	if data[0] != MsgTypeSnapshot {
		return nil, ErrInvalidMessage
	}

	count := int(binary.LittleEndian.Uint16(data[13:15]))
	if len(data) < SnapshotHeaderSize+count*EntityStateSize {
		return nil, ErrBufferTooSmall
	}

	msg := &SnapshotMessage{
		MsgType:  data[0],
		Frame:    binary.LittleEndian.Uint32(data[1:5]),
		Score:    int32(binary.LittleEndian.Uint32(data[5:9])),
		Speed:    math.Float32frombits(binary.LittleEndian.Uint32(data[9:13])),
		Entities: make([]EntityState, count),
	}

	offset := SnapshotHeaderSize
	for i := range msg.Entities {
		msg.Entities[i] = p.decodeEntity(data[offset : offset+EntityStateSize])
		offset += EntityStateSize
	}
	return msg, nil
}

func (p *Protocol) decodeEntity(buf []byte) EntityState {
	e := EntityState{
		ID:   binary.LittleEndian.Uint32(buf[0:4]),
		Kind: buf[4],
	}
	off := 5
	for i := range e.Position {
		e.Position[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	for i := range e.Rotation {
		e.Rotation[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return e
}

// EncodeScore encodes a score event (10 bytes)
func (p *Protocol) EncodeScore(kind uint8, delta, total int32) []byte {
	buf := make([]byte, ScoreSize)
	buf[0] = MsgTypeScore
	buf[1] = kind
	binary.LittleEndian.PutUint32(buf[2:6], uint32(delta))
	binary.LittleEndian.PutUint32(buf[6:10], uint32(total))
	return buf
}

// DecodeScore decodes a score event
func (p *Protocol) DecodeScore(data []byte) (*ScoreMessage, error) {
	if len(data) < ScoreSize {
		return nil, ErrBufferTooSmall
	}
	if data[0] != MsgTypeScore {
		return nil, ErrInvalidMessage
	}
	return &ScoreMessage{
		MsgType: data[0],
		Kind:    data[1],
		Delta:   int32(binary.LittleEndian.Uint32(data[2:6])),
		Total:   int32(binary.LittleEndian.Uint32(data[6:10])),
	}, nil
}

// EncodeSessionInfo encodes session info message
func (p *Protocol) EncodeSessionInfo(info SessionInfoMessage) []byte {
	idBytes := []byte(info.SessionID)
	if len(idBytes) > 255 {
		idBytes = idBytes[:255]
	}

	buf := make([]byte, 12+len(idBytes))
	buf[0] = MsgTypeSessionInfo
	buf[1] = uint8(len(idBytes))
	copy(buf[2:], idBytes)
	offset := 2 + len(idBytes)
	binary.LittleEndian.PutUint64(buf[offset:offset+8], info.Seed)
	buf[offset+8] = info.StepRate
	buf[offset+9] = info.SnapshotRate

	return buf
}

// DecodeSessionInfo decodes a session info message
func (p *Protocol) DecodeSessionInfo(data []byte) (*SessionInfoMessage, error) {
	if len(data) < 2 {
		return nil, ErrBufferTooSmall
	}
	if data[0] != MsgTypeSessionInfo {
		return nil, ErrInvalidMessage
	}
	idLen := int(data[1])
	if len(data) < 12+idLen {
		return nil, ErrBufferTooSmall
	}
	offset := 2 + idLen
	return &SessionInfoMessage{
		MsgType:      data[0],
		SessionID:    string(data[2:offset]),
		Seed:         binary.LittleEndian.Uint64(data[offset : offset+8]),
		StepRate:     data[offset+8],
		SnapshotRate: data[offset+9],
	}, nil
}

// EncodePong encodes a pong message
func (p *Protocol) EncodePong(timestamp uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = MsgTypePong
	binary.LittleEndian.PutUint64(buf[1:9], timestamp)
	return buf
}

// EncodeError encodes an error message
func (p *Protocol) EncodeError(code uint8, message string) []byte {
	msgBytes := []byte(message)
	if len(msgBytes) > 255 {
		msgBytes = msgBytes[:255]
	}

	buf := make([]byte, 3+len(msgBytes))
	buf[0] = MsgTypeError
	buf[1] = code
	buf[2] = uint8(len(msgBytes))
	copy(buf[3:], msgBytes)

	return buf
}

// ConvertSnapshot converts a simulation snapshot to network format
func ConvertSnapshot(snap game.Snapshot) SnapshotMessage {
	msg := SnapshotMessage{
		MsgType:  MsgTypeSnapshot,
		Frame:    uint32(snap.Frame),
		Score:    int32(snap.Score),
		Speed:    float32(snap.Speed),
		Entities: make([]EntityState, len(snap.Entities)),
	}
	for i, t := range snap.Entities {
		msg.Entities[i] = EntityState{
			ID:   t.ID,
			Kind: uint8(t.Kind),
			Position: [3]float32{
				float32(t.Position.X()),
				float32(t.Position.Y()),
				float32(t.Position.Z()),
			},
			Rotation: [4]float32{
				float32(t.Rotation.V.X()),
				float32(t.Rotation.V.Y()),
				float32(t.Rotation.V.Z()),
				float32(t.Rotation.W),
			},
		}
	}
	return msg
}

// Controls converts a decoded input to simulation controls
func (m *InputMessage) Controls() game.Controls {
	c := game.Controls{
		Forward:   m.Keys&KeyUp != 0,
		Backward:  m.Keys&KeyDown != 0,
		Left:      m.Keys&KeyLeft != 0,
		Right:     m.Keys&KeyRight != 0,
		Handbrake: m.Keys&KeyHandbrake != 0,
	}
	if m.Flags&InputFlagAnalog != 0 {
		steering, throttle := DecodeSteeringThrottle(m.Steering, m.Throttle)
		c.Analog = &game.AnalogInput{Steering: steering, Throttle: throttle}
	}
	return c
}

// DecodeSteeringThrottle converts int8 values to float64 in [-1, 1]. -128 maps to -1.
func DecodeSteeringThrottle(steering, throttle int8) (float64, float64) {
	s := math.Max(-1, float64(steering)/127.0)
	t := math.Max(-1, float64(throttle)/127.0)
	return s, t
}

// EncodeSteeringThrottle converts analog values to int8, clamping to the wire range
func EncodeSteeringThrottle(steering, throttle float64) (int8, int8) {
	s := math.Max(-1, math.Min(1, steering))
	t := math.Max(-1, math.Min(1, throttle))
	return int8(math.Round(s * 127)), int8(math.Round(t * 127))
}
