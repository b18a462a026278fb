package engine

import (
	"errors"
	"fmt"

	"github.com/talgya/scapegoat/internal/agents"
)

// ErrInvariant marks a broken model invariant. It indicates a phase
// ordering bug, never a recoverable condition.
var ErrInvariant = errors.New("invariant violated")

// CheckInvariants verifies the post-tick state: clamps, dead agents
// without edges, a latched ritual, roles consistent with flags, and
// clustering coefficients within [0,1].
func (s *Simulation) CheckInvariants() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...))
	}

	for _, a := range s.Agents {
		if a.Tension < agents.MinTension || a.Tension > agents.MaxTension {
			fail("agent %d tension %d out of range", a.ID, a.Tension)
		}
		if a.Health < agents.MinHealth || a.Health > agents.MaxHealth {
			fail("agent %d health %v out of range", a.ID, a.Health)
		}
		if !a.Alive {
			if d := s.degree(a.ID); d != 0 {
				fail("dead agent %d has %d edges", a.ID, d)
			}
			if s.Net.Active(int64(a.ID)) {
				fail("dead agent %d is active in the network", a.ID)
			}
			continue
		}
		if a.Accuser && a.Role != agents.RoleLeader {
			fail("agent %d is flagged accuser with role %s", a.ID, a.Role)
		}
		if a.Accused && a.Role != agents.RoleVictim {
			fail("agent %d is flagged accused with role %s", a.ID, a.Role)
		}
		if a.FailedAccuser && a.Role != agents.RoleFailedAccuser {
			fail("agent %d is flagged failed accuser with role %s", a.ID, a.Role)
		}
		if a.FailedAccused && a.Role != agents.RoleFailedVictim {
			fail("agent %d is flagged failed accused with role %s", a.ID, a.Role)
		}
		if v, ok := s.Net.LocalClustering(int64(a.ID)).Value(); ok && (v < 0 || v > 1) {
			fail("agent %d clustering %v out of [0,1]", a.ID, v)
		}
	}

	if r := s.Ritual; r != nil {
		acc, vic := s.Agent(r.Accuser), s.Agent(r.Victim)
		if acc == nil || (acc.Alive && (acc.Role != agents.RoleLeader || !acc.Accuser)) {
			fail("ritual accuser %d is not a flagged leader", r.Accuser)
		}
		if vic == nil || (vic.Alive && (vic.Role != agents.RoleVictim || !vic.Accused)) {
			fail("ritual victim %d is not a flagged victim", r.Victim)
		}
		if !s.accuseSwitch {
			fail("ritual active without the accusation latch")
		}
	}
	return errors.Join(errs...)
}
