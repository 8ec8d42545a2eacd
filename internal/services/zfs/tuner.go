package zfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Prompter reads menu choices from the operator.
type Prompter interface {
	Ask(label, def string) (string, error)
	Printf(format string, args ...any)
}

// Tuner drives the interactive property menus.
type Tuner struct {
	svc      Service
	prompter Prompter
	logger   zerolog.Logger
}

// NewTuner creates a menu driver over svc.
func NewTuner(logger zerolog.Logger, svc Service, prompter Prompter) *Tuner {
	return &Tuner{svc: svc, prompter: prompter, logger: logger}
}

// Run shows the flow menu until the operator exits or input ends.
func (t *Tuner) Run(ctx context.Context, dataset string) error {
	flows := Flows()

	for {
		t.prompter.Printf("\nZFS tuning for %s\n", dataset)
		for i, f := range flows {
			t.prompter.Printf("  %d) %s\n", i+1, f.Title)
		}
		t.prompter.Printf("  0) Exit\n")

		answer, err := t.prompter.Ask("Select", "0")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		choice, err := strconv.Atoi(answer)
		if err != nil || choice < 0 || choice > len(flows) {
			t.prompter.Printf("Invalid choice %q\n", answer)
			continue
		}
		if choice == 0 {
			return nil
		}

		results, err := t.RunFlow(ctx, dataset, flows[choice-1])
		t.printResults(results)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// RunFlow presents each menu of flow once. A valid choice issues exactly
// one SafeSet; empty input, 0 or an invalid choice leaves the property
// untouched. io.EOF is returned with the results gathered so far when
// input ends mid-flow.
func (t *Tuner) RunFlow(ctx context.Context, dataset string, flow Flow) ([]models.PropertyResult, error) {
	names := make([]string, 0, len(flow.Menus))
	for _, m := range flow.Menus {
		names = append(names, m.Property)
	}

	current, err := t.svc.GetProperties(ctx, dataset, names...)
	if err != nil {
		t.logger.Warn().Err(err).Str("dataset", dataset).Msg("could not read current properties")
		current = map[string]models.Property{}
	}

	results := make([]models.PropertyResult, 0, len(flow.Menus))
	for _, menu := range flow.Menus {
		result, err := t.runMenu(ctx, dataset, menu, current[menu.Property])
		if err != nil {
			return results, err
		}
		results = append(results, *result)
	}

	return results, nil
}

func (t *Tuner) runMenu(ctx context.Context, dataset string, menu Menu, current models.Property) (*models.PropertyResult, error) {
	value := current.Value
	if value == "" {
		value = "unknown"
	}

	t.prompter.Printf("\n%s (current: %s)\n", menu.Title, value)
	for i, opt := range menu.Options {
		t.prompter.Printf("  %d) %s\n", i+1, opt.Label)
	}
	t.prompter.Printf("  0) Keep current\n")

	answer, err := t.prompter.Ask("Select", "0")
	if err != nil {
		return nil, err
	}

	unchanged := &models.PropertyResult{
		Dataset:  dataset,
		Property: menu.Property,
		Value:    current.Value,
		Status:   models.PropertyUnchanged,
	}

	choice, convErr := strconv.Atoi(answer)
	if convErr != nil || choice < 0 || choice > len(menu.Options) {
		t.logger.Warn().Str("property", menu.Property).Str("input", answer).Msg("invalid menu choice, keeping current value")
		t.prompter.Printf("Invalid choice %q, keeping current value\n", answer)
		unchanged.Output = fmt.Sprintf("invalid choice %q", answer)
		return unchanged, nil
	}
	if choice == 0 {
		return unchanged, nil
	}

	opt := menu.Options[choice-1]
	return t.svc.SafeSet(ctx, dataset, menu.Property, opt.Value)
}

func (t *Tuner) printResults(results []models.PropertyResult) {
	if len(results) == 0 {
		return
	}
	t.prompter.Printf("\nResults:\n")
	for _, r := range results {
		switch r.Status {
		case models.PropertyFailed:
			t.prompter.Printf("  %-14s %-10s %s (%v)\n", r.Property, r.Status, r.Value, r.Error)
		default:
			t.prompter.Printf("  %-14s %-10s %s\n", r.Property, r.Status, r.Value)
		}
	}
}
