package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noesis-ai/noesis/internal/model"
)

func TestDefaultSafeguards(t *testing.T) {
	s := model.DefaultSafeguards()
	assert.True(t, s.ConstitutiveEdgesRequireBilateralConsent)
	assert.True(t, s.SMFCannotModifySafeguards)
	assert.True(t, s.AuditLogAlwaysOn)
	assert.True(t, s.NeutralProposalFraming)
}

func TestSMFProposal_RequiredApprovalsComplete(t *testing.T) {
	tests := []struct {
		name    string
		level   model.ApprovalLevel
		io, eth bool
		want    bool
	}{
		{"IO: IO approval alone is sufficient", model.ApprovalIO, true, false, true},
		{"IO: no approvals is incomplete", model.ApprovalIO, false, false, false},
		{"BILATERAL: both required", model.ApprovalBilateral, true, true, true},
		{"BILATERAL: IO only is incomplete", model.ApprovalBilateral, true, false, false},
		{"BILATERAL: neither is incomplete", model.ApprovalBilateral, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &model.SMFProposal{ApprovalLevel: tt.level, ApprovedByIO: tt.io, ApprovedByEthr: tt.eth}
			assert.Equal(t, tt.want, p.RequiredApprovalsComplete())
		})
	}
}

func TestUndoDeadlineFor(t *testing.T) {
	resolvedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, model.UndoDeadlineFor(resolvedAt))
}
