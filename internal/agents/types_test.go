package agents

import "testing"

func TestTensionClamps(t *testing.T) {
	a := New(1)
	a.AdjustTension(10)
	if a.Tension != MaxTension {
		t.Errorf("expected tension %d, got %d", MaxTension, a.Tension)
	}
	if a.AdjustTension(1) {
		t.Error("adjusting at the ceiling should report no change")
	}
	a.SetTension(-4)
	if a.Tension != MinTension {
		t.Errorf("expected tension %d, got %d", MinTension, a.Tension)
	}
}

func TestHealthClamps(t *testing.T) {
	a := New(1)
	a.AdjustHealth(10)
	if a.Health != MaxHealth {
		t.Errorf("expected health %v, got %v", MaxHealth, a.Health)
	}
	a.AdjustHealth(-100)
	if a.Health != MinHealth {
		t.Errorf("expected health %v, got %v", MinHealth, a.Health)
	}
}

func TestState(t *testing.T) {
	tests := []struct {
		tension int
		want    TensionState
	}{
		{0, Calm},
		{1, Mild},
		{2, Elevated},
		{3, Critical},
	}
	for _, tt := range tests {
		a := New(1)
		a.SetTension(tt.tension)
		if got := a.State(); got != tt.want {
			t.Errorf("tension %d: expected %v, got %v", tt.tension, tt.want, got)
		}
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	a := New(3)
	a.Role = RoleVictim
	a.Health = 0.2
	a.Tension = 3
	a.Alive = false
	a.Accused = true

	a.Reset()
	if a.Role != RoleNeutral || a.Health != DefaultHealth || a.Tension != DefaultTension || !a.Alive || a.Flagged() {
		t.Errorf("reset left state behind: %+v", a)
	}
}

func TestKind(t *testing.T) {
	a := New(1)
	a.Role = RoleFailedAccuser
	if a.Kind() != "accuser_failed" {
		t.Errorf("expected accuser_failed, got %s", a.Kind())
	}
	a.Alive = false
	if a.Kind() != KindDead {
		t.Errorf("expected %s, got %s", KindDead, a.Kind())
	}
}

func TestBuildIndex(t *testing.T) {
	pop := []*Agent{New(0), New(1), New(2), New(3)}
	pop[1].Role = RoleVictim
	pop[2].Role = RoleVictim
	pop[3].Alive = false

	idx := BuildIndex(pop)
	if len(idx.Live) != 3 {
		t.Errorf("expected 3 live agents, got %d", len(idx.Live))
	}
	if idx.Count(RoleVictim) != 2 {
		t.Errorf("expected 2 victims, got %d", idx.Count(RoleVictim))
	}
	if idx.Count(RoleLeader) != 0 {
		t.Errorf("expected no leaders, got %d", idx.Count(RoleLeader))
	}
}
