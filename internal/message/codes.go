package message

import "fmt"

// Type distinguishes the three message families.
type Type int

const (
	TypeData Type = iota
	TypeControl
	TypeRPC
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeControl:
		return "control"
	case TypeRPC:
		return "rpc"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Priority orders queued messages. Lower values drain first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Code is meaningful only within the code space of its message Type.
type Code int

// Data codes.
const (
	CodeData Code = 0
)

// Control codes.
const (
	ControlACK     Code = 0
	ControlError   Code = 1
	ControlWarning Code = 2
	ControlLog     Code = 3
	ControlStart   Code = 4
	ControlStop    Code = 5

	ControlStartAudit Code = 10
	ControlStopAudit  Code = 11

	ControlStartUI Code = 20
	ControlStopUI  Code = 21

	ControlStartReport Code = 30
)

// RPC codes.
const (
	RPCBulk Code = 0

	RPCCacheGet    Code = 1
	RPCCacheSet    Code = 2
	RPCCacheCheck  Code = 3
	RPCCacheRemove Code = 4

	RPCDataAdd     Code = 10
	RPCDataRemove  Code = 11
	RPCDataCheck   Code = 12
	RPCDataGet     Code = 13
	RPCDataGetMany Code = 14
	RPCDataKeys    Code = 15
	RPCDataCount   Code = 16

	RPCStateAdd    Code = 20
	RPCStateRemove Code = 21
	RPCStateCheck  Code = 22
	RPCStateGet    Code = 23
	RPCStateKeys   Code = 24

	RPCRequestSlot Code = 30
	RPCReleaseSlot Code = 31
)

var controlNames = map[Code]string{
	ControlACK:         "ACK",
	ControlError:       "ERROR",
	ControlWarning:     "WARNING",
	ControlLog:         "LOG",
	ControlStart:       "START",
	ControlStop:        "STOP",
	ControlStartAudit:  "START_AUDIT",
	ControlStopAudit:   "STOP_AUDIT",
	ControlStartUI:     "START_UI",
	ControlStopUI:      "STOP_UI",
	ControlStartReport: "START_REPORT",
}

var rpcNames = map[Code]string{
	RPCBulk:        "BULK",
	RPCCacheGet:    "CACHE_GET",
	RPCCacheSet:    "CACHE_SET",
	RPCCacheCheck:  "CACHE_CHECK",
	RPCCacheRemove: "CACHE_REMOVE",
	RPCDataAdd:     "DATA_ADD",
	RPCDataRemove:  "DATA_REMOVE",
	RPCDataCheck:   "DATA_CHECK",
	RPCDataGet:     "DATA_GET",
	RPCDataGetMany: "DATA_GET_MANY",
	RPCDataKeys:    "DATA_KEYS",
	RPCDataCount:   "DATA_COUNT",
	RPCStateAdd:    "STATE_ADD",
	RPCStateRemove: "STATE_REMOVE",
	RPCStateCheck:  "STATE_CHECK",
	RPCStateGet:    "STATE_GET",
	RPCStateKeys:   "STATE_KEYS",
	RPCRequestSlot: "REQUEST_SLOT",
	RPCReleaseSlot: "RELEASE_SLOT",
}

// RPCCodes returns every RPC code in ascending order.
// The RPC registry validates against this list at startup.
func RPCCodes() []Code {
	return []Code{
		RPCBulk,
		RPCCacheGet, RPCCacheSet, RPCCacheCheck, RPCCacheRemove,
		RPCDataAdd, RPCDataRemove, RPCDataCheck, RPCDataGet, RPCDataGetMany, RPCDataKeys, RPCDataCount,
		RPCStateAdd, RPCStateRemove, RPCStateCheck, RPCStateGet, RPCStateKeys,
		RPCRequestSlot, RPCReleaseSlot,
	}
}

// CodeName returns the symbolic name of a code within the given type's code space.
func CodeName(t Type, c Code) string {
	var name string
	var ok bool
	switch t {
	case TypeData:
		name, ok = "DATA", c == CodeData
	case TypeControl:
		name, ok = controlNames[c]
	case TypeRPC:
		name, ok = rpcNames[c]
	}
	if !ok {
		return fmt.Sprintf("%s(%d)", t, int(c))
	}
	return name
}
