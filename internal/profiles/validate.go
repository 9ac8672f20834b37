package profiles

import (
	"errors"
	"fmt"

	"workswitch/internal/core"
)

var _ core.ProfileSource = (*FileSource)(nil)

// Validate reports every problem found in cfg, joined into one error.
func Validate(cfg *core.AppConfig) error {
	var errs []error
	seen := make(map[string]bool, len(cfg.Profiles))
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("profile %s: id is required", label))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("profile %s: duplicate id %q", label, p.ID))
		}
		seen[p.ID] = true

		if p.Schedule != nil {
			if err := p.Schedule.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("profile %s: schedule: %w", label, err))
			}
		}
		for j, step := range p.Steps {
			if err := validateStep(step); err != nil {
				errs = append(errs, fmt.Errorf("profile %s: step %d: %w", label, j+1, err))
			}
		}
	}
	for j, step := range cfg.StartupSteps {
		if err := validateStep(step); err != nil {
			errs = append(errs, fmt.Errorf("startup step %d: %w", j+1, err))
		}
	}
	return errors.Join(errs...)
}

func validateStep(step core.Step) error {
	if !step.Type.Valid() {
		return fmt.Errorf("%w %q", core.ErrUnknownStepType, step.Type)
	}
	return nil
}
