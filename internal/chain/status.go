package chain

import (
	"errors"
	"fmt"
)

// Status is a result code shared between the chained child and the
// supervisor. Values follow the HRESULT convention so installers that
// already report HRESULTs can write them unchanged.
type Status uint32

const (
	// StatusOK reports success.
	StatusOK Status = 0
	// StatusPending is the initial value of both result fields.
	StatusPending Status = 0x8000000A
	// StatusAborted is what a child reports after honouring an abort flag.
	StatusAborted Status = 0x80004004
	// StatusAbnormalTermination is set by the supervisor when the child
	// exits without finishing both phases.
	StatusAbnormalTermination Status = 0x8007042B
)

// ErrAbnormalTermination is returned when the child exits before setting
// both done flags.
var ErrAbnormalTermination = errors.New("chained process terminated abnormally")

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusPending:
		return "pending"
	case StatusAborted:
		return "aborted"
	case StatusAbnormalTermination:
		return "abnormal termination"
	default:
		return fmt.Sprintf("0x%08X", uint32(s))
	}
}

// Succeeded reports whether s is a success code.
func (s Status) Succeeded() bool {
	return s&0x80000000 == 0
}
