package network

// Message types
const (
	// Client -> Server
	MsgTypeInput        uint8 = 0x01
	MsgTypeJoinSession  uint8 = 0x02
	MsgTypeLeaveSession uint8 = 0x03
	MsgTypePing         uint8 = 0x04

	// Server -> Client
	MsgTypeSnapshot    uint8 = 0x10
	MsgTypeScore       uint8 = 0x11
	MsgTypeSessionInfo uint8 = 0x14
	MsgTypePong        uint8 = 0x15
	MsgTypeError       uint8 = 0xFF
)

// Key flags (bit field)
const (
	KeyUp        uint8 = 1 << 0
	KeyDown      uint8 = 1 << 1
	KeyLeft      uint8 = 1 << 2
	KeyRight     uint8 = 1 << 3
	KeyHandbrake uint8 = 1 << 4
)

// Input flags
const (
	// InputFlagAnalog marks Steering and Throttle as valid. Keys still carry the handbrake.
	InputFlagAnalog uint8 = 1 << 0
)

// Entity kinds on the wire, matching the simulation's render kinds.
const (
	KindPlayer uint8 = iota
	KindNPC
	KindDebris
	KindFence
	KindTree
	KindCoin
)

// Score kinds on the wire
const (
	ScoreCoin   uint8 = 0
	ScoreLaunch uint8 = 1
)

// Sizes of the fixed-layout messages
const (
	InputSize          = 6
	PingSize           = 9
	SnapshotHeaderSize = 15
	EntityStateSize    = 33
	ScoreSize          = 10
	MaxEntities        = 0xFFFF
)

// InputMessage from client (6 bytes)
type InputMessage struct {
	MsgType  uint8
	Sequence uint8
	Keys     uint8
	Steering int8 // -127 to 127 -> -1.0 to 1.0
	Throttle int8 // 0 to 127 -> 0.0 to 1.0
	Flags    uint8
}

// JoinMessage from client. The seed is optional.
type JoinMessage struct {
	MsgType uint8
	HasSeed bool
	Seed    uint64
}

// PingMessage from client (9 bytes)
type PingMessage struct {
	MsgType   uint8
	Timestamp uint64
}

// SnapshotMessage to client
type SnapshotMessage struct {
	MsgType  uint8
	Frame    uint32
	Score    int32
	Speed    float32
	Entities []EntityState
}

// EntityState in a snapshot (33 bytes per entity)
type EntityState struct {
	ID       uint32
	Kind     uint8
	Position [3]float32
	Rotation [4]float32 // x, y, z, w
}

// ScoreMessage to client (10 bytes)
type ScoreMessage struct {
	MsgType uint8
	Kind    uint8
	Delta   int32
	Total   int32
}

// SessionInfoMessage to client
type SessionInfoMessage struct {
	MsgType      uint8
	SessionID    string
	Seed         uint64
	StepRate     uint8
	SnapshotRate uint8
}

// PongMessage to client
type PongMessage struct {
	MsgType   uint8
	Timestamp uint64
}

// ErrorMessage to client
type ErrorMessage struct {
	MsgType uint8
	Code    uint8
	Message string
}

// Error codes
const (
	ErrorCodeInvalidMessage uint8 = 1
	ErrorCodeSessionFull    uint8 = 2
	ErrorCodeKicked         uint8 = 3
	ErrorCodeServerError    uint8 = 4
)
