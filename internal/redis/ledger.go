package redis

import (
	"fmt"
	"strconv"

	"github.com/template-scoreboard/internal/domain"
)

func ledgerFromHash(userID string, fields map[string]string) (*domain.LedgerEntry, error) {
	entry := &domain.LedgerEntry{
		UserID:   userID,
		Username: fields["username"],
	}
	var err error
	if entry.SubmissionScore, err = parseScore(fields, "submission_score"); err != nil {
		return nil, err
	}
	if entry.DistributionScore, err = parseScore(fields, "distribution_score"); err != nil {
		return nil, err
	}
	if entry.TotalScore, err = parseScore(fields, "total_score"); err != nil {
		return nil, err
	}
	if entry.TotalScore != entry.SubmissionScore+entry.DistributionScore {
		return nil, fmt.Errorf("cached ledger for %s is inconsistent", userID)
	}
	return entry, nil
}

func parseScore(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("cached ledger missing %s", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return v, nil
}
