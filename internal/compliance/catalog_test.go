package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtkrag/internal/domain"
)

func TestParseFramework(t *testing.T) {
	tests := []struct {
		in   string
		want Framework
	}{
		{"iso27001", ISO27001},
		{"ISO-27001", ISO27001},
		{" iso_27001 ", ISO27001},
		{"pci-dss", PCIDSS},
		{"PCI DSS", PCIDSS},
		{"both", Both},
	}
	for _, tt := range tests {
		got, err := ParseFramework(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseFramework("soc2")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestBuildChecklist(t *testing.T) {
	tests := []struct {
		name       string
		framework  Framework
		domain     string
		wantDomain string
		total      int
		critical   int
		high       int
	}{
		{"iso all", ISO27001, "", "All", 11, 5, 5},
		{"iso access", ISO27001, "access", "Access Control", 4, 2, 2},
		{"iso crypto", ISO27001, "Crypto", "Cryptography", 3, 2, 1},
		{"pci all", PCIDSS, "", "All", 12, 8, 4},
		{"pci query longer than domain", PCIDSS, "protect cardholder data controls", "Protect Cardholder Data", 2, 2, 0},
		{"pci unknown domain", PCIDSS, "quantum", "All", 12, 8, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := BuildChecklist(tt.framework, tt.domain)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDomain, list.Domain)
			assert.Equal(t, tt.total, list.Total)
			assert.Len(t, list.Requirements, tt.total)
			assert.Equal(t, tt.critical, list.Critical)
			assert.Equal(t, tt.high, list.High)
			for _, r := range list.Requirements {
				assert.Equal(t, NotStarted, r.Status)
			}
		})
	}

	list, err := BuildChecklist(PCIDSS, "access control")
	require.NoError(t, err)
	require.Len(t, list.Requirements, 3)
	assert.Equal(t, "Req 8", list.Requirements[1].ID)
	assert.Equal(t, "Authentication", list.Requirements[1].Category)

	_, err = BuildChecklist(Both, "")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestStatusFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		date time.Time
		now  time.Time
		days int
		want DeadlineStatus
	}{
		{"yesterday", now.AddDate(0, 0, -1), now, -1, Overdue},
		{"today", now, now, 0, DueSoon},
		{"later today rounds up", now, now.Add(12 * time.Hour), 0, DueSoon},
		{"week", now.AddDate(0, 0, 7), now, 7, DueSoon},
		{"thirty days", now.AddDate(0, 0, 30), now, 30, DueSoon},
		{"thirty one days", now.AddDate(0, 0, 31), now, 31, Upcoming},
		{"partial day counts", now.AddDate(0, 0, 30), now.Add(-time.Hour), 31, Upcoming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, status := StatusFor(tt.date, tt.now)
			assert.Equal(t, tt.days, days)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestTrackDeadlines(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	deadlines := append(DefaultDeadlines(now),
		Deadline{Title: "PCI DSS: Firewall rule review", Date: "2026-02-20", Type: "Remediation", Priority: SeverityMedium})

	all, err := TrackDeadlines(Both, deadlines, now)
	require.NoError(t, err)
	require.Len(t, all, 5)
	titles := make([]string, len(all))
	for i, d := range all {
		titles[i] = d.Title
	}
	assert.Equal(t, []string{
		"ISO 27001: Initial Certification Audit",
		"PCI DSS: Annual Assessment",
		"Documentation Review",
		"Staff Training Completion",
		"PCI DSS: Firewall rule review",
	}, titles)
	assert.Equal(t, 90, all[0].DaysUntil)
	assert.Equal(t, Upcoming, all[0].Status)
	assert.Equal(t, DueSoon, all[2].Status)
	assert.Equal(t, -9, all[4].DaysUntil)
	assert.Equal(t, Overdue, all[4].Status)

	pci, err := TrackDeadlines(PCIDSS, deadlines, now)
	require.NoError(t, err)
	assert.Len(t, pci, 2)
	iso, err := TrackDeadlines(ISO27001, deadlines, now)
	require.NoError(t, err)
	assert.Len(t, iso, 1)

	_, err = TrackDeadlines(Both, []Deadline{{Title: "Audit", Date: "next week"}}, now)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestAnalyzeGaps(t *testing.T) {
	rep, err := AnalyzeGaps(PCIDSS, "", "")
	require.NoError(t, err)
	assert.Equal(t, "All Areas", rep.FocusArea)
	assert.Equal(t, 5, rep.TotalGaps)
	assert.Equal(t, 2, rep.CriticalGaps)

	rep, err = AnalyzeGaps(ISO27001, "Missing policy documentation for key rotation", "encryption")
	require.NoError(t, err)
	assert.Equal(t, "Encryption", rep.FocusArea)
	require.Len(t, rep.Gaps, 3)
	assert.Equal(t, "Information Security Policy", rep.Gaps[2].Requirement)
	assert.Equal(t, 1, rep.CriticalGaps)

	rep, err = AnalyzeGaps(ISO27001, "", "logging")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TotalGaps)
	assert.Equal(t, "Audit Logging", rep.Gaps[0].Requirement)

	rep, err = AnalyzeGaps(ISO27001, "", "physical")
	require.NoError(t, err)
	assert.Equal(t, 5, rep.TotalGaps)

	_, err = AnalyzeGaps(Both, "", "")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
