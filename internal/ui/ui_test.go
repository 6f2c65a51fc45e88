package ui

import "testing"

func TestShouldUseColorRespectsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Fatal("NO_COLOR must win even when CLICOLOR_FORCE is set")
	}
}

func TestShouldUseColorRespectsCliColorZero(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR", "0")
	if ShouldUseColor() {
		t.Fatal("CLICOLOR=0 should disable color")
	}
}

func TestShouldUseColorForceOverridesNonTTY(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor() {
		t.Fatal("CLICOLOR_FORCE=1 should force color on regardless of TTY detection")
	}
}

func TestStatusStyleMapping(t *testing.T) {
	if s := StatusStyle("ACTIVE"); s.GetForeground() != ColorPass {
		t.Errorf("ACTIVE should use the pass color, got %v", s.GetForeground())
	}
	if s := StatusStyle("READ_ONLY"); s.GetForeground() != ColorWarn {
		t.Errorf("READ_ONLY should use the warn color, got %v", s.GetForeground())
	}
	if s := StatusStyle("REMOVED"); s.GetForeground() != ColorWarn {
		t.Errorf("REMOVED should use the warn color, got %v", s.GetForeground())
	}
	if s := StatusStyle("SOMETHING_ELSE"); s.GetForeground() == ColorPass || s.GetForeground() == ColorWarn {
		t.Errorf("unknown status should be left unstyled, got %v", s.GetForeground())
	}
}

func TestWidthFallsBackWhenUndetectable(t *testing.T) {
	if w := Width(); w <= 0 {
		t.Errorf("Width should never return a non-positive value, got %d", w)
	}
}
