package smartstep

import "testing"

func TestDisabledPolicyAlwaysKeeps(t *testing.T) {
	p := NewPolicy(false)
	got := p.Classify(ReasonStep, Frame{HasSourceMap: true, PositionMapped: false})
	if got != Keep {
		t.Fatalf("expected Keep when disabled, got %v", got)
	}
}

func TestNonStepReasonDisablesSmartStepping(t *testing.T) {
	p := NewPolicy(true)
	got := p.Classify(ReasonBreakpoint, Frame{HasSourceMap: true, PositionMapped: false})
	if got != Keep {
		t.Fatalf("expected Keep for a breakpoint pause, got %v", got)
	}
}

func TestUnmappedPositionIsSmartStepped(t *testing.T) {
	p := NewPolicy(true)
	got := p.Classify(ReasonStep, Frame{HasSourceMap: true, PositionMapped: false})
	if got != SmartStep {
		t.Fatalf("expected SmartStep, got %v", got)
	}
}

func TestBlackboxedFrameIsSkipped(t *testing.T) {
	p := NewPolicy(true)
	got := p.Classify(ReasonStep, Frame{Blackboxed: true})
	if got != Blackboxed {
		t.Fatalf("expected Blackboxed, got %v", got)
	}
}

func TestMappedPositionKeepsAndResetsCounter(t *testing.T) {
	p := NewPolicy(true)
	p.Classify(ReasonStep, Frame{HasSourceMap: true, PositionMapped: false})
	got := p.Classify(ReasonStep, Frame{HasSourceMap: true, PositionMapped: true})
	if got != Keep {
		t.Fatalf("expected Keep for a mapped position, got %v", got)
	}
}

func TestConsecutiveStepBoundForcesStepOut(t *testing.T) {
	p := NewPolicy(true).WithMaxConsecutiveSteps(2)
	frame := Frame{HasSourceMap: true, PositionMapped: false}

	for i := 0; i < 2; i++ {
		if got := p.Classify(ReasonStep, frame); got != SmartStep {
			t.Fatalf("iteration %d: expected SmartStep, got %v", i, got)
		}
	}
	if got := p.Classify(ReasonStep, frame); got != ForceStepOut {
		t.Fatalf("expected ForceStepOut once the bound is reached, got %v", got)
	}
	// the bound must never be exceeded by more than one: after forcing
	// step-out the counter resets, so the very next classification can
	// legitimately smart-step again.
	if got := p.Classify(ReasonStep, frame); got != SmartStep {
		t.Fatalf("expected counter reset after ForceStepOut, got %v", got)
	}
}
