package main

import "testing"

func TestParseCommandSetSpeed(t *testing.T) {
	cmd, err := ParseCommand("command=set_speed;value=1.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Name != "set_speed" || cmd.Value != "1.5" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandBareEmergency(t *testing.T) {
	cmd, err := ParseCommand("command=emergency")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Name != "emergency" || cmd.Value != "" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandDirection(t *testing.T) {
	cmd, err := ParseCommand("command=set_direction;value=reverse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Name != "set_direction" || cmd.Value != "reverse" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandHeadlights(t *testing.T) {
	cmd, err := ParseCommand("command=headlights;value=on")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Name != "headlights" || cmd.Value != "on" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandQuit(t *testing.T) {
	cmd, err := ParseCommand("quit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Name != "quit" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandMissingCommandField(t *testing.T) {
	if _, err := ParseCommand("value=1.5"); err == nil {
		t.Fatal("expected error for missing command field")
	}
}

func TestParseCommandMalformedField(t *testing.T) {
	if _, err := ParseCommand("command=set_speed;garbage"); err == nil {
		t.Fatal("expected error for malformed field")
	}
}

func TestParseCommandEmptyLine(t *testing.T) {
	if _, err := ParseCommand("   "); err == nil {
		t.Fatal("expected error for empty line")
	}
}

func TestParseCommandIgnoresSurroundingWhitespace(t *testing.T) {
	cmd, err := ParseCommand("  command = set_speed ; value = 2.0  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Name != "set_speed" || cmd.Value != "2.0" {
		t.Fatalf("got %+v", cmd)
	}
}
