package engine

import (
	"github.com/triage-ai/palisade/services/plan_guard/internal/plan"
)

// Follow-up questions offered to the user.
const (
	QuestionReduceAmount   = "Would you like to reduce the amount so it stays within your risk limits?"
	QuestionAlternatives   = "Should we consider alternative actions that can be simulated successfully?"
	QuestionLegalInfo      = "Can you provide more information about the legal context, such as jurisdiction or applicable regulations?"
	QuestionProceedPartial = "Would you like to proceed with the approved actions first?"
	QuestionRephrase       = "Could you rephrase or narrow your goal so a plan can be produced?"
	QuestionRetry          = "Would you like to run the request again?"
)

// Decide maps a plan and its verification to a Decision.
//
// Rules (applied in order):
//  1. Every check passed and no issue is open → approve every action
//  2. Any check failed → reject orders and payments, approve analysis,
//     defer documents and tasks, ask follow-up questions
//  3. Otherwise → approve analysis and documents, defer the rest,
//     ask whether to proceed with the approved actions first
//
// Unknown never counts as pass.
func Decide(p *plan.PlanAction, v *plan.PlanVerification) *plan.Decision {
	d := &plan.Decision{
		ApprovedActions: []string{},
		DeferredActions: []string{},
		RejectedActions: []string{},
		NextQuestions:   []string{},
	}

	switch {
	case v.AllPass() && len(v.OpenIssues) == 0:
		d.ApprovedActions = append(d.ApprovedActions, p.ActionIDs()...)
		d.Summary = "All checks passed. Every proposed action is approved."

	case len(v.Failed()) > 0:
		for _, a := range p.ProposedActions {
			switch a.Kind {
			case plan.KindOrder, plan.KindPayment:
				d.RejectedActions = append(d.RejectedActions, a.ID)
			case plan.KindAnalysis:
				d.ApprovedActions = append(d.ApprovedActions, a.ID)
			default:
				d.DeferredActions = append(d.DeferredActions, a.ID)
			}
		}
		d.NextQuestions = failureQuestions(p, v)
		d.Summary = "Critical checks failed. Money-moving actions are rejected; analysis may proceed."

	default:
		for _, a := range p.ProposedActions {
			switch a.Kind {
			case plan.KindAnalysis, plan.KindDocument:
				d.ApprovedActions = append(d.ApprovedActions, a.ID)
			default:
				d.DeferredActions = append(d.DeferredActions, a.ID)
			}
		}
		d.NextQuestions = append(d.NextQuestions, QuestionProceedPartial)
		if p.Requires(plan.CheckLaw) && v.Checks.LawOK.Status == plan.StatusUnknown {
			d.NextQuestions = append(d.NextQuestions, QuestionLegalInfo)
		}
		d.Summary = "Some checks could not be confirmed. Low-risk actions are approved; the rest are deferred."
	}

	if len(d.NextQuestions) > plan.MaxNextQuestions {
		d.NextQuestions = d.NextQuestions[:plan.MaxNextQuestions]
	}
	return d
}

func failureQuestions(p *plan.PlanAction, v *plan.PlanVerification) []string {
	var qs []string
	if v.Checks.LimitsOK.Status == plan.StatusFail {
		qs = append(qs, QuestionReduceAmount)
	}
	if v.Checks.SimulateOK.Status == plan.StatusFail {
		qs = append(qs, QuestionAlternatives)
	}
	if p.Requires(plan.CheckLaw) && v.Checks.LawOK.Status != plan.StatusPass {
		qs = append(qs, QuestionLegalInfo)
	}
	if len(qs) == 0 {
		qs = append(qs, QuestionProceedPartial)
	}
	return qs
}

// RejectionDecision is the decision for a session whose plan could not be
// produced. It names no actions.
func RejectionDecision() *plan.Decision {
	return &plan.Decision{
		Summary:         "Plan generation failed: no valid plan could be produced for this request.",
		ApprovedActions: []string{},
		DeferredActions: []string{},
		RejectedActions: []string{},
		NextQuestions:   []string{QuestionRephrase},
	}
}

// DeferAll is the decision for a session cancelled before a decision was
// reached. Every action of p, if any, is deferred.
func DeferAll(p *plan.PlanAction) *plan.Decision {
	d := &plan.Decision{
		Summary:         "The session was cancelled before verification completed. No action is approved.",
		ApprovedActions: []string{},
		DeferredActions: []string{},
		RejectedActions: []string{},
		NextQuestions:   []string{QuestionRetry},
	}
	if p != nil {
		d.DeferredActions = append(d.DeferredActions, p.ActionIDs()...)
	}
	return d
}
