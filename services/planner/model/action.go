// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
)

// RiskLevel scales an action's base cost.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Factor returns the cost multiplier for the risk level.
// The empty level is treated as low.
func (r RiskLevel) Factor() float64 {
	switch r {
	case RiskMedium:
		return 1.5
	case RiskHigh:
		return 2.0
	case RiskCritical:
		return 3.0
	default:
		return 1.0
	}
}

// Valid reports whether r is a known level or empty.
func (r RiskLevel) Valid() bool {
	switch r {
	case "", RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Cost is the cost record of an action.
type Cost struct {
	BaseUnits float64   `json:"base_units" yaml:"base_units" validate:"gte=0"`
	Risk      RiskLevel `json:"risk_factor,omitempty" yaml:"risk_factor,omitempty" validate:"risklevel"`
}

// Total returns BaseUnits scaled by the risk factor.
func (c Cost) Total() float64 {
	return c.BaseUnits * c.Risk.Factor()
}

// Action is a caller-supplied operation that transforms world state.
//
// # Description
//
// An action is applicable in a state when every precondition holds. Applying
// it writes its effects over the state. The planner never owns or persists
// actions; they arrive with each planning request.
type Action struct {
	ID            string        `json:"id" yaml:"id" validate:"required"`
	Name          string        `json:"name,omitempty" yaml:"name,omitempty"`
	Category      string        `json:"category,omitempty" yaml:"category,omitempty"`
	Priority      int           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Preconditions WorldState    `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	Effects       WorldState    `json:"effects" yaml:"effects" validate:"required,min=1"`
	Cost          Cost          `json:"cost" yaml:"cost"`
	Duration      time.Duration `json:"duration,omitempty" yaml:"duration,omitempty" validate:"gte=0"`
}

// TotalCost returns the edge weight of the action.
func (a Action) TotalCost() float64 {
	return a.Cost.Total()
}

// Applicable reports whether the action's preconditions hold in s.
func (a Action) Applicable(s WorldState) bool {
	return s.Satisfies(a.Preconditions)
}

// actionValidate is the validator instance for model types.
var actionValidate *validator.Validate

func init() {
	actionValidate = validator.New()
	_ = actionValidate.RegisterValidation("risklevel", func(fl validator.FieldLevel) bool {
		return RiskLevel(fl.Field().String()).Valid()
	})
}

// Validate checks the action's fields.
//
// # Outputs
//
//   - error: ErrInvalidAction wrapping the validation failure, nil if valid.
func (a Action) Validate() error {
	if err := actionValidate.Struct(a); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAction, a.ID, err)
	}
	for k, v := range a.Preconditions {
		if v.Kind() == KindInvalid {
			return fmt.Errorf("%w: %q: precondition %q has no value", ErrInvalidAction, a.ID, k)
		}
	}
	for k, v := range a.Effects {
		if v.Kind() == KindInvalid {
			return fmt.Errorf("%w: %q: effect %q has no value", ErrInvalidAction, a.ID, k)
		}
	}
	return nil
}

// ActionSet is a validated, indexed set of actions.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type ActionSet struct {
	byID  map[string]Action
	order []string
}

// NewActionSet validates actions and indexes them by ID.
//
// # Outputs
//
//   - *ActionSet: The indexed set, iterated in ID order.
//   - error: ErrInvalidAction for an invalid or duplicated action.
func NewActionSet(actions []Action) (*ActionSet, error) {
	set := &ActionSet{
		byID:  make(map[string]Action, len(actions)),
		order: make([]string, 0, len(actions)),
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := set.byID[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidAction, a.ID)
		}
		set.byID[a.ID] = a
		set.order = append(set.order, a.ID)
	}
	sort.Strings(set.order)
	return set, nil
}

// Get returns the action with the given ID.
func (s *ActionSet) Get(id string) (Action, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// Len returns the number of actions.
func (s *ActionSet) Len() int { return len(s.order) }

// All returns the actions ordered by ID.
func (s *ActionSet) All() []Action {
	out := make([]Action, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Setters returns the actions whose effects write key=value, ordered by ID.
func (s *ActionSet) Setters(key string, value Value) []Action {
	var out []Action
	for _, id := range s.order {
		a := s.byID[id]
		if v, ok := a.Effects[key]; ok && v.Equal(value) {
			out = append(out, a)
		}
	}
	return out
}
