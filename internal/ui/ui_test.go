package ui

import "testing"

func TestColorDisabled(t *testing.T) {
	SetColorEnabled(false)
	if got := Green("ok"); got != "ok" {
		t.Errorf("Green with color disabled = %q", got)
	}
	if got := Bold("x"); got != "x" {
		t.Errorf("Bold with color disabled = %q", got)
	}
}

func TestColorEnabled(t *testing.T) {
	SetColorEnabled(true)
	defer SetColorEnabled(false)

	if got := Red("no"); got != "\033[31mno\033[0m" {
		t.Errorf("Red = %q", got)
	}
	if got := Dim("faint"); got != "\033[2mfaint\033[0m" {
		t.Errorf("Dim = %q", got)
	}
}
