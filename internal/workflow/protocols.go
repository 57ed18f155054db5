package workflow

import (
	"context"
	"errors"
	"fmt"

	"casewizard/internal/domain"
	"casewizard/internal/persistence"
	"casewizard/internal/retry"
)

var errEmptyProtocol = errors.New("protocol generator returned no content")

// generateProtocol produces the protocol for one evaluation using the
// strategy of its treatment.
func (e *Engine) generateProtocol(ctx context.Context, req domain.ProtocolRequest) (persistence.Protocol, error) {
	strategy := req.TreatmentType.Strategy()
	protocol := persistence.Protocol{Strategy: strategy, Source: persistence.SourceGenerated}
	err := e.observe(ctx, "protocol_"+string(strategy), func(ctx context.Context) error {
		var call func(context.Context, domain.ProtocolRequest) (domain.ProtocolContent, error)
		switch strategy {
		case domain.StrategyResin:
			call = e.deps.Protocols.GenerateResinProtocol
		case domain.StrategyCementation:
			call = e.deps.Protocols.GenerateCementationProtocol
		default:
			content := genericChecklist(req.TreatmentType, req.ItemID)
			protocol.Source = persistence.SourceChecklist
			protocol.Summary = content.Summary
			protocol.Checklist = checklistSteps(content.Checklist)
			return nil
		}
		op := "generate_" + string(strategy) + "_protocol"
		return retry.Do(ctx, e.protocolPolicy, e.sleep, e.reconnecting(op), func(ctx context.Context) error {
			content, err := call(ctx, req)
			if err != nil {
				return err
			}
			if content.Empty() {
				return domain.NewError(domain.KindNoData, op, errEmptyProtocol)
			}
			protocol.Summary = content.Summary
			protocol.Checklist = checklistSteps(content.Checklist)
			return nil
		})
	})
	protocol.GeneratedAt = e.clock.Now()
	return protocol, err
}

func checklistSteps(lines []string) []persistence.ChecklistStep {
	steps := make([]persistence.ChecklistStep, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		steps = append(steps, persistence.ChecklistStep{Text: line})
	}
	return steps
}

var genericSteps = map[domain.TreatmentType][]string{
	domain.TreatmentImplant: {
		"Request cone-beam CT of the site",
		"Assess bone volume and soft tissue thickness",
		"Plan implant position and dimensions",
		"Schedule surgical placement",
		"Plan provisional and definitive restoration",
	},
	domain.TreatmentCrown: {
		"Evaluate remaining tooth structure and pulp status",
		"Prepare the tooth and take the impression or scan",
		"Seat the provisional crown",
		"Try in and cement the definitive crown",
	},
	domain.TreatmentRootCanal: {
		"Confirm diagnosis with periapical radiograph",
		"Perform root canal treatment",
		"Take the control radiograph",
		"Plan the definitive restoration",
	},
	domain.TreatmentReferral: {
		"Write the referral letter with findings",
		"Attach photos and radiographs",
		"Schedule follow-up after specialist review",
	},
	domain.TreatmentGingivoplasty: {
		"Perform periodontal probing and record the gingival margins",
		"Plan the new gingival zenith positions",
		"Perform the gingivoplasty",
		"Review healing before restorative work",
	},
	domain.TreatmentRootCoverage: {
		"Measure the recession depth and width",
		"Select the graft technique",
		"Perform the root coverage procedure",
		"Review healing and graft stability",
	},
}

// genericChecklist builds the local protocol for treatments without an AI
// generator.
func genericChecklist(t domain.TreatmentType, itemID string) domain.ProtocolContent {
	steps, ok := genericSteps[t]
	if !ok {
		steps = []string{"Review the case and plan the treatment", "Schedule the procedure"}
	}
	target := "tooth " + itemID
	if domain.IsVirtualItem(itemID) {
		target = "the soft tissue"
	}
	return domain.ProtocolContent{
		Summary:   fmt.Sprintf("%s for %s", t, target),
		Checklist: append([]string(nil), steps...),
	}
}
