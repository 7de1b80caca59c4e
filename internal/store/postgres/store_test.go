package postgres

import (
	"strings"
	"testing"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
)

func TestUpdateStatusQuery_LifecycleColumns(t *testing.T) {
	query := updateStatusQuery([]string{"$4", "$5"}, false)

	for _, clause := range []string{
		// Parking for approval hands the row back to the operator, so
		// the next running stretch starts its own clock.
		"WHEN $2 = 'waiting_approval' THEN NULL",
		"WHEN $2 = 'running' THEN NOW()",
		// Jobs cancelled before ever running still finish with a
		// non-null started_at.
		"WHEN $2 IN ('success', 'failure') THEN COALESCE(started_at, NOW())",
		"finished_at = CASE WHEN $2 IN ('success', 'failure') THEN NOW() ELSE finished_at END",
		"pid = CASE WHEN $2 = 'running' THEN NULL ELSE pid END",
	} {
		if !strings.Contains(query, clause) {
			t.Errorf("query missing clause %q\n%s", clause, query)
		}
	}
	if !strings.Contains(query, "WHERE id = $1 AND status IN ($4, $5)") {
		t.Errorf("query missing source guard\n%s", query)
	}
	if strings.Contains(query, "artifact_ref") {
		t.Errorf("artifact columns written without an artifact\n%s", query)
	}
}

func TestUpdateStatusQuery_ArtifactPlaceholders(t *testing.T) {
	query := updateStatusQuery([]string{"$4"}, true)
	if !strings.Contains(query, "artifact_ref = $5, artifact_mime = $6") {
		t.Errorf("artifact placeholders misnumbered\n%s", query)
	}
}

func TestLegalSources(t *testing.T) {
	cases := []struct {
		next domain.JobStatus
		want []domain.JobStatus
	}{
		// queued -> running belongs to ClaimNext alone.
		{domain.StatusRunning, []domain.JobStatus{domain.StatusWaitingApproval}},
		{domain.StatusWaitingApproval, []domain.JobStatus{domain.StatusRunning}},
		{domain.StatusSuccess, []domain.JobStatus{domain.StatusRunning}},
		{domain.StatusFailure, []domain.JobStatus{domain.StatusQueued, domain.StatusRunning, domain.StatusWaitingApproval}},
		{domain.StatusQueued, nil},
	}
	for _, tc := range cases {
		got := legalSources(tc.next)
		if len(got) != len(tc.want) {
			t.Errorf("legalSources(%s) = %v, want %v", tc.next, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("legalSources(%s) = %v, want %v", tc.next, got, tc.want)
				break
			}
		}
	}
}
