package models

import (
	"fmt"
	"strconv"
	"strings"
)

// SolverMethod selects how the linear dynamical system is fitted.
type SolverMethod string

const (
	MethodPinv  SolverMethod = "pinv"
	MethodLstsq SolverMethod = "lstsq"
)

// DefaultL2Penalty is the regularization constant applied to every fit.
const DefaultL2Penalty = 1e-9

// ModelParams configures the fragility model. Values are never derived from data.
type ModelParams struct {
	Radius    float64      `yaml:"radius" json:"radius"`
	WinSize   int          `yaml:"winsize" json:"winsize"`
	StepSize  int          `yaml:"stepsize" json:"stepsize"`
	Order     int          `yaml:"order" json:"order"`
	L2Penalty float64      `yaml:"l2penalty" json:"l2penalty"`
	Method    SolverMethod `yaml:"method" json:"method_to_use"`
}

// DefaultModelParams returns the parameter set used by the scalp study.
func DefaultModelParams() ModelParams {
	return ModelParams{
		Radius:    1.25,
		WinSize:   100,
		StepSize:  50,
		Order:     1,
		L2Penalty: DefaultL2Penalty,
		Method:    MethodPinv,
	}
}

// Validate checks that the parameters describe a fit the model can run.
func (p ModelParams) Validate() error {
	if p.Radius <= 0 {
		return fmt.Errorf("radius must be > 0, got %v", p.Radius)
	}
	if p.WinSize <= 0 {
		return fmt.Errorf("winsize must be > 0, got %d", p.WinSize)
	}
	if p.StepSize <= 0 {
		return fmt.Errorf("stepsize must be > 0, got %d", p.StepSize)
	}
	if p.StepSize > p.WinSize {
		return fmt.Errorf("stepsize (%d) must not exceed winsize (%d)", p.StepSize, p.WinSize)
	}
	if p.Order < 1 {
		return fmt.Errorf("order must be >= 1, got %d", p.Order)
	}
	if p.L2Penalty < 0 {
		return fmt.Errorf("l2penalty must be >= 0, got %v", p.L2Penalty)
	}
	switch p.Method {
	case MethodPinv, MethodLstsq:
	default:
		return fmt.Errorf("invalid method %q, must be one of: pinv, lstsq", p.Method)
	}
	return nil
}

// Key renders every parameter in a fixed order. Equal parameter sets yield equal keys.
func (p ModelParams) Key() string {
	return strings.Join([]string{
		"radius=" + FormatRadius(p.Radius),
		"winsize=" + strconv.Itoa(p.WinSize),
		"stepsize=" + strconv.Itoa(p.StepSize),
		"order=" + strconv.Itoa(p.Order),
		"l2penalty=" + strconv.FormatFloat(p.L2Penalty, 'g', -1, 64),
		"method=" + string(p.Method),
	}, ";")
}

// FormatRadius formats a radius the way derivative directories have always
// been named: shortest representation, but whole numbers keep a ".0" suffix.
func FormatRadius(r float64) string {
	s := strconv.FormatFloat(r, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
