package engine

import (
	"fmt"

	"github.com/licensahq/stageact/internal/template"
	"github.com/licensahq/stageact/model"
)

// Resolver decides whether an entity may move to a target stage and
// returns that stage's definition. It is pure: no side effects, no
// store access beyond the template snapshot it is given.
type Resolver struct {
	templates *template.Registry
}

// NewResolver creates a Resolver over the given template registry.
func NewResolver(templates *template.Registry) *Resolver {
	return &Resolver{templates: templates}
}

// Resolve validates the transition entity to targetStage for the given
// actor and returns the target stage definition. Checks run in order:
// template known, target stage exists, transition allowed from the
// current stage, actor's role permitted to enter the target.
func (r *Resolver) Resolve(entity model.Entity, targetStage string, actor model.Actor) (*model.StageDefinition, error) {
	def, ok := r.templates.Get(entity.TemplateName)
	if !ok {
		return nil, model.NewConfigurationError(
			fmt.Sprintf("template %q is not loaded", entity.TemplateName))
	}

	target := def.Stage(targetStage)
	if target == nil {
		return nil, model.NewStageNotFoundError(
			fmt.Sprintf("stage %q not found in template %q", targetStage, def.Name))
	}

	// An entity with no stage yet may enter any stage the actor's role
	// permits; the transition check only applies once it has one.
	if entity.CurrentStage != "" {
		current := def.Stage(entity.CurrentStage)
		if current == nil {
			return nil, model.NewStageNotFoundError(
				fmt.Sprintf("current stage %q not found in template %q", entity.CurrentStage, def.Name))
		}
		if !current.AllowsTransitionTo(targetStage) {
			return nil, model.NewTransitionNotAllowedError(
				fmt.Sprintf("transition %q to %q is not allowed", entity.CurrentStage, targetStage))
		}
	}

	if !r.roleAllowed(target, actor) {
		return nil, model.NewRoleNotPermittedError(
			fmt.Sprintf("role %q may not move entities into stage %q", actor.Role, targetStage))
	}

	return target, nil
}

func (r *Resolver) roleAllowed(stage *model.StageDefinition, actor model.Actor) bool {
	if actor.ID == model.SystemActorID {
		return true
	}
	if stage.AllowsRole(actor.Role) {
		return true
	}
	for _, role := range actor.Roles {
		if stage.AllowsRole(role) {
			return true
		}
	}
	return false
}
