package lifecycle

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// Phases an operation passes through.
const (
	PhaseReceived  = "received"
	PhaseValidated = "validated"
	PhaseChecked   = "checked"
	PhaseAttached  = "attached"
	PhaseBackedUp  = "backed_up"
	PhaseCleared   = "cleared"
	PhaseTagged    = "tagged"
	PhaseInserted  = "inserted"
	PhaseRestored  = "restored"
	PhaseDone      = "done"
	PhaseFailed    = "failed"
)

const (
	eventValidate = "validate"
	eventCheck    = "check"
	eventAttach   = "attach"
	eventBackup   = "backup"
	eventClear    = "clear"
	eventTag      = "tag"
	eventInsert   = "insert"
	eventRestore  = "restore"
	eventComplete = "complete"
	eventFail     = "fail"
)

// phaseEvents fixes the order of store calls within one operation. A
// transition missing from the table is a programming error.
var phaseEvents = fsm.Events{
	{Name: eventValidate, Src: []string{PhaseReceived}, Dst: PhaseValidated},
	{Name: eventCheck, Src: []string{PhaseReceived, PhaseValidated}, Dst: PhaseChecked},
	{Name: eventAttach, Src: []string{PhaseChecked}, Dst: PhaseAttached},
	{Name: eventBackup, Src: []string{PhaseChecked, PhaseAttached}, Dst: PhaseBackedUp},
	{Name: eventClear, Src: []string{PhaseBackedUp}, Dst: PhaseCleared},
	{Name: eventTag, Src: []string{PhaseChecked, PhaseAttached, PhaseCleared}, Dst: PhaseTagged},
	{Name: eventInsert, Src: []string{PhaseTagged}, Dst: PhaseInserted},
	{Name: eventRestore, Src: []string{PhaseChecked, PhaseBackedUp, PhaseCleared, PhaseTagged}, Dst: PhaseRestored},
	{Name: eventComplete, Src: []string{PhaseInserted, PhaseCleared, PhaseRestored}, Dst: PhaseDone},
	{Name: eventFail, Src: []string{
		PhaseReceived, PhaseValidated, PhaseChecked, PhaseAttached, PhaseBackedUp,
		PhaseCleared, PhaseTagged, PhaseInserted, PhaseRestored,
	}, Dst: PhaseFailed},
}

type phaseMachine struct {
	fsm *fsm.FSM
}

// newPhaseMachine starts in PhaseReceived. logger is read on every
// transition so attributes added later show up in phase logs.
func newPhaseMachine(logger func() *slog.Logger) *phaseMachine {
	return &phaseMachine{
		fsm: fsm.NewFSM(
			PhaseReceived,
			phaseEvents,
			fsm.Callbacks{
				"enter_state": func(ctx context.Context, e *fsm.Event) {
					logger().DebugContext(ctx, "phase transition", "event", e.Event, "from", e.Src, "to", e.Dst)
				},
			},
		),
	}
}

func (p *phaseMachine) advance(ctx context.Context, event string) error {
	return p.fsm.Event(ctx, event)
}

func (p *phaseMachine) current() string {
	return p.fsm.Current()
}
