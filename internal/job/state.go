package job

// State is the lifecycle state of a slot.
type State string

const (
	StateCreated     State = "created"
	StateConfiguring State = "configuring"
	StateDestroyed   State = "destroyed"
)

func (s State) Terminal() bool { return s == StateDestroyed }

func markConfiguring(s *Slot) {
	if s.state == StateCreated {
		s.state = StateConfiguring
	}
}

func markDestroyed(s *Slot) { s.state = StateDestroyed }
