package aws

import "github.com/ppiankov/wastespectre/internal/model"

func safe(desc, cmd string) model.PlanStep {
	return model.PlanStep{Description: desc, Command: cmd, Risk: model.StepSafe}
}

func review(desc, cmd string) model.PlanStep {
	return model.PlanStep{Description: desc, Command: cmd, Risk: model.StepReview}
}

func destructive(desc, cmd string) model.PlanStep {
	return model.PlanStep{Description: desc, Command: cmd, Risk: model.StepDestructive}
}

// newPlan numbers steps from 1.
func newPlan(downtime bool, steps ...model.PlanStep) model.ImplementationPlan {
	for i := range steps {
		steps[i].Order = i + 1
	}
	return model.ImplementationPlan{Steps: steps, RequiresDowntime: downtime}
}
