package trigger

import "testing"

func TestTimeIntervalFiresAfterPeriod(t *testing.T) {
	tr := NewTimeInterval(1.0, 0.0)
	if tr.Fire(0.5) {
		t.Fatal("fired before period elapsed")
	}
	if !tr.Fire(1.0) {
		t.Fatal("expected fire at exactly one period")
	}
	if tr.Fire(1.2) {
		t.Fatal("fired again before next period")
	}
	if !tr.Fire(2.1) {
		t.Fatal("expected fire after second period")
	}
}

func TestStepCountFiresEveryN(t *testing.T) {
	sc := NewStepCount(3)
	got := []bool{}
	for i := 0; i < 7; i++ {
		got = append(got, sc.Fire(0))
	}
	want := []bool{false, false, true, false, false, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestOrFiresIfAnySubtriggerFires(t *testing.T) {
	a := NewStepCount(2)
	b := NewStepCount(5)
	or := NewOr(a, b)
	if or.Fire(0) {
		t.Fatal("unexpected or fire on first call: neither subtrigger fires yet")
	}
	if !or.Fire(0) {
		t.Fatal("expected or to fire when a fires on second call")
	}
}

func TestAndRequiresAllSubtriggers(t *testing.T) {
	a := NewStepCount(2)
	b := NewStepCount(3)
	and := NewAnd(a, b)
	// a fires every 2nd call, b fires every 3rd call; both align at call 6.
	for i := 1; i <= 5; i++ {
		if and.Fire(0) {
			t.Fatalf("unexpected fire on call %d", i)
		}
	}
	if !and.Fire(0) {
		t.Fatal("expected and to fire when both subtriggers align on call 6")
	}
}
