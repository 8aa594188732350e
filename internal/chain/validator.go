package chain

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/leolilley/ryeos/internal/space"
	"github.com/leolilley/ryeos/pkg/models"
)

// ValidationWarning is a non-fatal issue surfaced during validation
// (currently only missing I/O declarations, which are silently
// compatible but worth surfacing).
type ValidationWarning struct {
	ChildID  string
	ParentID string
	Message  string
}

// Validate checks every adjacent (child, parent) pair of chain, where
// chain[i] delegates to chain[i+1], against space precedence, I/O
// compatibility, and the parent's declared version constraint for the
// child. It returns accumulated warnings on success, or the first
// validation error encountered.
func Validate(links []models.ChainLink) ([]ValidationWarning, error) {
	var warnings []ValidationWarning
	for i := 0; i < len(links)-1; i++ {
		child := links[i]
		parent := links[i+1]

		if err := validateSpace(child, parent); err != nil {
			return nil, err
		}

		if w := validateIO(child, parent); w != nil {
			warnings = append(warnings, *w)
		} else if err := checkIO(child, parent); err != nil {
			return nil, err
		}

		if err := validateVersion(child, parent); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

func validateSpace(child, parent models.ChainLink) error {
	childPrec := space.Precedence(child.Tier)
	parentPrec := space.Precedence(parent.Tier)
	if parentPrec < childPrec {
		return fmt.Errorf("%w: %q (%s) may not delegate to %q (%s), a higher-precedence space",
			ErrSpaceViolation, child.ItemID, child.Tier, parent.ItemID, parent.Tier)
	}
	return nil
}

// validateIO reports a warning (no error) when either side omits I/O
// declarations, per spec.md's "missing declarations are silently
// compatible but emit a warning".
func validateIO(child, parent models.ChainLink) *ValidationWarning {
	if len(parent.Meta.Inputs) == 0 || len(child.Meta.Outputs) == 0 {
		return &ValidationWarning{
			ChildID:  child.ItemID,
			ParentID: parent.ItemID,
			Message:  "missing I/O declarations; compatibility not verified",
		}
	}
	return nil
}

func checkIO(child, parent models.ChainLink) error {
	outputs := make(map[string]bool, len(child.Meta.Outputs))
	for _, o := range child.Meta.Outputs {
		outputs[o.Name] = true
	}
	for _, in := range parent.Meta.Inputs {
		if !in.Required {
			continue
		}
		if !outputs[in.Name] {
			return fmt.Errorf("%w: parent %q requires input %q not produced by child %q",
				ErrIOIncompatible, parent.ItemID, in.Name, child.ItemID)
		}
	}
	return nil
}

func validateVersion(child, parent models.ChainLink) error {
	constraint, ok := parent.Meta.ChildConstraints[child.ItemID]
	if !ok {
		return nil
	}
	v, err := semver.NewVersion(child.Meta.Version)
	if err != nil {
		return fmt.Errorf("%w: child %q has unparseable version %q: %v", ErrVersionConstraint, child.ItemID, child.Meta.Version, err)
	}
	if constraint.MinVersion != "" {
		min, err := semver.NewVersion(constraint.MinVersion)
		if err == nil && v.LessThan(min) {
			return fmt.Errorf("%w: child %q version %s below parent %q's minimum %s",
				ErrVersionConstraint, child.ItemID, child.Meta.Version, parent.ItemID, constraint.MinVersion)
		}
	}
	if constraint.MaxVersion != "" {
		max, err := semver.NewVersion(constraint.MaxVersion)
		if err == nil && v.GreaterThan(max) {
			return fmt.Errorf("%w: child %q version %s above parent %q's maximum %s",
				ErrVersionConstraint, child.ItemID, child.Meta.Version, parent.ItemID, constraint.MaxVersion)
		}
	}
	return nil
}
