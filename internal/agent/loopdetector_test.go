package agent

import "testing"

func TestLoopDetector_DistinctCallsNeverStrike(t *testing.T) {
	var d loopDetector
	for i := 0; i < 10; i++ {
		d.observe("shell", "c", "distinct output "+string(rune('a'+i)), false)
		if sev := d.check(); sev != loopNone {
			t.Fatalf("expected loopNone for varying results, got %v on iteration %d", sev, i)
		}
	}
}

func TestLoopDetector_ThreeIdenticalCallsWarnOnce(t *testing.T) {
	var d loopDetector
	var severities []loopSeverity
	for i := 0; i < 3; i++ {
		d.observe("shell", "c", "same output", false)
		severities = append(severities, d.check())
	}
	if severities[0] != loopNone || severities[1] != loopNone {
		t.Fatalf("expected loopNone on strikes 1-2, got %v", severities)
	}
	if severities[2] != loopWarn {
		t.Fatalf("expected loopWarn on strike 3, got %v", severities[2])
	}

	// A further identical call (strike 4) must not warn again.
	d.observe("shell", "c", "same output", false)
	if sev := d.check(); sev != loopNone {
		t.Fatalf("expected loopWarn to fire only once, got %v on strike 4", sev)
	}
}

func TestLoopDetector_FiveIdenticalCallsAbort(t *testing.T) {
	var d loopDetector
	var last loopSeverity
	for i := 0; i < 5; i++ {
		d.observe("shell", "c", "same output", false)
		last = d.check()
	}
	if last != loopAbort {
		t.Fatalf("expected loopAbort on strike 5, got %v", last)
	}
}

func TestLoopDetector_DifferingCallResetsStreak(t *testing.T) {
	var d loopDetector
	d.observe("shell", "c", "same output", false)
	d.observe("shell", "c", "same output", false)
	d.observe("shell", "c", "different output", false)
	if sev := d.check(); sev != loopNone {
		t.Fatalf("expected the streak to reset after a differing result, got %v", sev)
	}

	// Confirm the reset streak can warn again after three fresh repeats
	// (one observed above, two more here).
	d.observe("shell", "c", "different output", false)
	d.observe("shell", "c", "different output", false)
	if sev := d.check(); sev != loopWarn {
		t.Fatalf("expected loopWarn after three repeats of the new result, got %v", sev)
	}
}

func TestLoopDetector_ErrorFlagParticipatesInSignature(t *testing.T) {
	var d loopDetector
	d.observe("shell", "c", "boom", false)
	d.observe("shell", "c", "boom", true)
	if sev := d.check(); sev != loopNone {
		t.Fatalf("expected the error flag to distinguish the signature, got %v", sev)
	}
}
