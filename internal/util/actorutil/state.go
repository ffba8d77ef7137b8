package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// ActorWithStates drives an actor.Behavior from named states and remembers
// which one is on top, so health replies can report it.
type ActorWithStates struct {
	Behavior actor.Behavior
	names    []string
}

type ActorState interface {
	Name() string
	Receive(actor.Context)
}

func (s *ActorWithStates) Become(state ActorState) {
	s.names = append(s.names[:0], state.Name())
	s.Behavior.Become(state.Receive)
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.names = append(s.names, state.Name())
	s.Behavior.BecomeStacked(state.Receive)
}

func (s *ActorWithStates) UnbecomeStacked() {
	if len(s.names) > 1 {
		s.names = s.names[:len(s.names)-1]
	}
	s.Behavior.UnbecomeStacked()
}

// StateName is the name of the active state, empty before the first Become.
func (s *ActorWithStates) StateName() string {
	if len(s.names) == 0 {
		return ""
	}
	return s.names[len(s.names)-1]
}
