package portcalc

import (
	"testing"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

func TestCalculateBasicArithmetic(t *testing.T) {
	calc, err := New("20000+x", "30000+x*y")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ports, err := calc.Calculate("10.0.5.42")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	// x = 42 (last octet), y = 5 (second-to-last octet)
	if ports.SSHPort != 20042 {
		t.Errorf("SSHPort = %d, want 20042", ports.SSHPort)
	}
	if ports.UDPPort != 30000+42*5 {
		t.Errorf("UDPPort = %d, want %d", ports.UDPPort, 30000+42*5)
	}
}

func TestCalculateRejectsInvalidIP(t *testing.T) {
	calc, err := New("20000+x", "30000+y")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := calc.Calculate("not-an-ip"); err == nil {
		t.Fatal("expected error for invalid IPv4")
	}
}

func TestNewRejectsUndefinedSymbol(t *testing.T) {
	if _, err := New("20000+z", "30000+y"); err == nil {
		t.Fatal("expected error for undefined symbol z")
	} else if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected KindValidation, got %v", err)
	}
}

func TestNewRejectsDisallowedOperator(t *testing.T) {
	if _, err := New("20000<<x", "30000+y"); err == nil {
		t.Fatal("expected error for disallowed operator <<")
	}
}

func TestNewRejectsFloatConstant(t *testing.T) {
	if _, err := New("20000.5+x", "30000+y"); err == nil {
		t.Fatal("expected error for float constant")
	}
}

func TestCalculateDivisionByZero(t *testing.T) {
	calc, err := New("x/0", "30000+y")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := calc.Calculate("10.0.0.1"); err == nil {
		t.Fatal("expected division by zero error")
	}
}

func TestCalculateWithParensAndUnaryMinus(t *testing.T) {
	calc, err := New("-x", "(x+y)*2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ports, err := calc.Calculate("10.0.3.7")
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if ports.SSHPort != -7 {
		t.Errorf("SSHPort = %d, want -7", ports.SSHPort)
	}
	if ports.UDPPort != (7+3)*2 {
		t.Errorf("UDPPort = %d, want %d", ports.UDPPort, (7+3)*2)
	}
}
