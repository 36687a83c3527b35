// Package portcalc implements the Port Calculator (spec.md §4.2): a pure
// function mapping a fixed IPv4 address to (sshPort, udpPort) by evaluating
// two configured arithmetic expressions over the free variables x (last
// octet) and y (second-to-last octet).
package portcalc

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"net"
	"strconv"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// Calculator evaluates the configured ssh/udp port expressions.
type Calculator struct {
	sshExpr ast.Expr
	udpExpr ast.Expr
}

// New parses the two configured expressions once at startup. Expressions may
// use the operators + - * / %, integer constants, and the free variables x
// and y; anything else is a config error.
func New(sshExpression, udpExpression string) (*Calculator, error) {
	sshExpr, err := parseExpr(sshExpression)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.KindValidation, "parsing ssh_port_calculation %q", sshExpression)
	}
	udpExpr, err := parseExpr(udpExpression)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.KindValidation, "parsing udp_port_calculation %q", udpExpression)
	}
	return &Calculator{sshExpr: sshExpr, udpExpr: udpExpr}, nil
}

func parseExpr(s string) (ast.Expr, error) {
	expr, err := parser.ParseExpr(s)
	if err != nil {
		return nil, err
	}
	if err := validate(expr); err != nil {
		return nil, err
	}
	return expr, nil
}

// validate walks the parsed expression, rejecting anything but the
// whitelisted arithmetic operators, integer literals, and the identifiers x
// and y.
func validate(expr ast.Expr) error {
	switch e := expr.(type) {
	case *ast.BinaryExpr:
		switch e.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO, token.REM:
		default:
			return fmt.Errorf("operator %q is not allowed", e.Op)
		}
		if err := validate(e.X); err != nil {
			return err
		}
		return validate(e.Y)
	case *ast.ParenExpr:
		return validate(e.X)
	case *ast.UnaryExpr:
		if e.Op != token.SUB && e.Op != token.ADD {
			return fmt.Errorf("unary operator %q is not allowed", e.Op)
		}
		return validate(e.X)
	case *ast.Ident:
		if e.Name != "x" && e.Name != "y" {
			return fmt.Errorf("undefined symbol %q", e.Name)
		}
		return nil
	case *ast.BasicLit:
		if e.Kind != token.INT {
			return fmt.Errorf("only integer constants are allowed, got %q", e.Value)
		}
		return nil
	default:
		return fmt.Errorf("expression of type %T is not allowed", expr)
	}
}

func eval(expr ast.Expr, x, y int) (int, error) {
	switch e := expr.(type) {
	case *ast.BinaryExpr:
		lhs, err := eval(e.X, x, y)
		if err != nil {
			return 0, err
		}
		rhs, err := eval(e.Y, x, y)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.ADD:
			return lhs + rhs, nil
		case token.SUB:
			return lhs - rhs, nil
		case token.MUL:
			return lhs * rhs, nil
		case token.QUO:
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return lhs / rhs, nil
		case token.REM:
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return lhs % rhs, nil
		}
	case *ast.ParenExpr:
		return eval(e.X, x, y)
	case *ast.UnaryExpr:
		v, err := eval(e.X, x, y)
		if err != nil {
			return 0, err
		}
		if e.Op == token.SUB {
			return -v, nil
		}
		return v, nil
	case *ast.Ident:
		switch e.Name {
		case "x":
			return x, nil
		case "y":
			return y, nil
		}
	case *ast.BasicLit:
		return strconv.Atoi(e.Value)
	}
	return 0, fmt.Errorf("cannot evaluate expression of type %T", expr)
}

// Ports is the (sshPort, udpPort) pair produced by Calculate.
type Ports struct {
	SSHPort int
	UDPPort int
}

// Calculate evaluates both expressions for the given fixed IPv4 address.
// x is the last octet, y is the second-to-last octet (spec.md §4.2).
func (c *Calculator) Calculate(fixedIPv4 string) (Ports, error) {
	ip := net.ParseIP(fixedIPv4).To4()
	if ip == nil {
		return Ports{}, apperr.NewWithID(apperr.KindValidation, "not a valid IPv4 address", fixedIPv4)
	}
	x := int(ip[3])
	y := int(ip[2])

	ssh, err := eval(c.sshExpr, x, y)
	if err != nil {
		return Ports{}, apperr.Wrap(err, apperr.KindValidation, "evaluating ssh_port_calculation")
	}
	udp, err := eval(c.udpExpr, x, y)
	if err != nil {
		return Ports{}, apperr.Wrap(err, apperr.KindValidation, "evaluating udp_port_calculation")
	}
	return Ports{SSHPort: ssh, UDPPort: udp}, nil
}
