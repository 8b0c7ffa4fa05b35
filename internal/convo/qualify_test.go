package convo

import (
	"context"
	"errors"
	"testing"

	"github.com/leadrelay/leadrelay/internal/models"
)

func TestAssessDecidesUnknownCriteria(t *testing.T) {
	gen := &stubGen{}
	gen.enqueue(`{"criteria": [
		{"criterion": "owns a business", "verdict": "matched", "evidence": "said they run a bakery"},
		{"criterion": "budget over $500/month", "verdict": "unknown", "evidence": ""}],
		"extracted_info": {"decision_maker": true, "budget": "", "timeline": "", "company_size": "",
		 "preferred_contact_method": "", "preferred_times": [], "objections": [], "notes": ["runs a bakery"]}}`)

	a := NewAssessor(gen)
	prev := NewContext(testCriteria).Qualification
	history := []models.Message{
		{Direction: models.DirectionOutbound, Content: "Hi! Do you run your own business?"},
	}
	q, extracted, usage := a.Assess(context.Background(), testCriteria, prev, history, "Yes, I run a bakery downtown")

	if q.VerdictFor("owns a business") != models.VerdictMatched {
		t.Errorf("verdict = %q, want matched", q.VerdictFor("owns a business"))
	}
	if q.VerdictFor("budget over $500/month") != models.VerdictUnknown {
		t.Error("undetermined criterion should stay unknown")
	}
	if q.Status != models.QualificationPartial {
		t.Errorf("status = %q, want partial", q.Status)
	}
	if extracted == nil || extracted.DecisionMaker == nil || !*extracted.DecisionMaker {
		t.Errorf("extracted = %+v", extracted)
	}
	if usage.Total == 0 {
		t.Error("usage should be reported")
	}
}

func TestAssessSkipsWhenAllDecided(t *testing.T) {
	gen := &stubGen{}
	a := NewAssessor(gen)
	prev := models.Qualification{
		Status:          models.QualificationQualified,
		CriteriaMatched: []string{"owns a business", "budget over $500/month"},
		CriteriaUnknown: []string{},
		CriteriaMissed:  []string{},
	}
	q, _, _ := a.Assess(context.Background(), testCriteria, prev, nil, "sounds good")
	if gen.callCount() != 0 {
		t.Errorf("provider called %d times with nothing to decide", gen.callCount())
	}
	if q.Status != models.QualificationQualified {
		t.Errorf("status = %q, want qualified unchanged", q.Status)
	}
}

func TestAssessFailSafe(t *testing.T) {
	prev := models.Qualification{
		Status:          models.QualificationPartial,
		CriteriaMatched: []string{"owns a business"},
		CriteriaUnknown: []string{"budget over $500/month"},
		CriteriaMissed:  []string{},
	}
	tests := []struct {
		name  string
		setup func(*stubGen)
	}{
		{"provider failure", func(g *stubGen) { g.enqueueErr(errors.New("timeout")) }},
		{"malformed output", func(g *stubGen) { g.enqueue("the lead seems qualified to me") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGen{}
			tt.setup(gen)
			a := NewAssessor(gen)
			q, extracted, _ := a.Assess(context.Background(), testCriteria, prev, nil, "maybe")
			if q.VerdictFor("owns a business") != models.VerdictMatched {
				t.Error("previous verdicts must survive a failed assessment")
			}
			if q.Status != models.QualificationPartial {
				t.Errorf("status = %q, want partial unchanged", q.Status)
			}
			if extracted != nil {
				t.Error("no extraction should be reported on failure")
			}
		})
	}
}

func TestAssessNeverRegressesDecidedCriteria(t *testing.T) {
	// The model disobeys the pinned verdict and flips a matched criterion.
	gen := &stubGen{}
	gen.enqueue(`{"criteria": [
		{"criterion": "owns a business", "verdict": "missed", "evidence": ""},
		{"criterion": "budget over $500/month", "verdict": "matched", "evidence": "mentioned $700"}],
		"extracted_info": {"budget": "$700/month"}}`)

	a := NewAssessor(gen)
	prev := models.Qualification{
		CriteriaMatched: []string{"owns a business"},
		CriteriaUnknown: []string{"budget over $500/month"},
		CriteriaMissed:  []string{},
	}
	q, _, _ := a.Assess(context.Background(), testCriteria, prev, nil, "around $700 a month works")

	if q.VerdictFor("owns a business") != models.VerdictMatched {
		t.Error("decided criterion must not regress")
	}
	if q.VerdictFor("budget over $500/month") != models.VerdictMatched {
		t.Error("new verdict for unknown criterion should apply")
	}
	if q.Status != models.QualificationQualified {
		t.Errorf("status = %q, want qualified", q.Status)
	}
}

func TestAssessIgnoresUnconfiguredCriteria(t *testing.T) {
	gen := &stubGen{}
	gen.enqueue(`{"criteria": [
		{"criterion": "OWNS A BUSINESS  ", "verdict": "matched", "evidence": ""},
		{"criterion": "has a yacht", "verdict": "matched", "evidence": ""}],
		"extracted_info": {}}`)

	a := NewAssessor(gen)
	prev := NewContext(testCriteria).Qualification
	q, _, _ := a.Assess(context.Background(), testCriteria, prev, nil, "yes I own it")

	// Case and whitespace drift resolves to the configured criterion.
	if q.VerdictFor("owns a business") != models.VerdictMatched {
		t.Error("criterion matching should tolerate case and whitespace drift")
	}
	for _, c := range q.CriteriaMatched {
		if c == "has a yacht" {
			t.Error("unconfigured criterion leaked into the qualification")
		}
	}
}

func TestAssessNoCriteriaConfigured(t *testing.T) {
	gen := &stubGen{}
	a := NewAssessor(gen)
	q, _, _ := a.Assess(context.Background(), nil, models.Qualification{}, nil, "hello")
	if gen.callCount() != 0 {
		t.Error("no provider call expected without criteria")
	}
	if q.Status != models.QualificationUnknown {
		t.Errorf("status = %q, want unknown", q.Status)
	}
}
