package model

import "time"

// TemplateDefinition is an ordered set of named stages governing one kind
// of workflow entity (an application, a posting, a renewal). Templates are
// authored as YAML files and loaded at startup; edits only affect future
// transitions, never in-flight entities.
type TemplateDefinition struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description"`
	Kind        string            `json:"kind,omitempty" yaml:"kind"`
	Stages      []StageDefinition `json:"stages" yaml:"stages"`

	// Populated by the loader.
	SourceFile string `json:"-" yaml:"-"`
	Checksum   string `json:"-" yaml:"-"`
}

// Stage returns the stage with the given name, or nil if absent.
func (t *TemplateDefinition) Stage(name string) *StageDefinition {
	for i := range t.Stages {
		if t.Stages[i].Name == name {
			return &t.Stages[i]
		}
	}
	return nil
}

// StageDefinition is one stage within a template: the transitions allowed
// out of it, the roles permitted to enter it, and the ordered list of
// side-effecting actions executed when an entity enters it.
type StageDefinition struct {
	Name               string       `json:"name" yaml:"name"`
	Description        string       `json:"description,omitempty" yaml:"description"`
	AllowedTransitions []string     `json:"allowed_transitions" yaml:"allowed_transitions"`
	AllowedRoles       []string     `json:"allowed_roles" yaml:"allowed_roles"`
	Actions            []ActionSpec `json:"actions,omitempty" yaml:"actions"`
}

// AllowsTransitionTo returns true if target is listed in the stage's
// allowed transitions.
func (s *StageDefinition) AllowsTransitionTo(target string) bool {
	for _, t := range s.AllowedTransitions {
		if t == target {
			return true
		}
	}
	return false
}

// AllowsRole returns true if the given role may enter this stage.
func (s *StageDefinition) AllowsRole(role string) bool {
	for _, r := range s.AllowedRoles {
		if r == role || r == "*" {
			return true
		}
	}
	return false
}

// Entity is the minimal projection of a workflow entity the engine needs:
// its identity, which template governs it, where it currently sits, and
// the data snapshot action configs resolve against. Full business entity
// persistence lives outside the engine.
type Entity struct {
	UUID         string         `json:"uuid"`
	Kind         string         `json:"kind"`
	TemplateName string         `json:"template_name"`
	CurrentStage string         `json:"current_stage"`
	Data         map[string]any `json:"data,omitempty"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
