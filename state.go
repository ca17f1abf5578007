package refinery

// State is an opaque named vertex of an IOSTS. States compare by identity;
// the name exists for diagnostics only.
type State struct {
	name string
}

// NewState creates a state with the given diagnostic name.
func NewState(name string) *State {
	return &State{name: name}
}

// Name returns the diagnostic name.
func (s *State) Name() string { return s.name }

func (s *State) String() string { return s.name }
