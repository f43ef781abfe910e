package ledger

import (
	"sort"

	"github.com/template-scoreboard/internal/domain"
)

// Rank assigns each user a 1-based position for total, submission and
// distribution score. Ties are broken by user id so ranks are stable
// between runs.
func Rank(entries []domain.LedgerEntry) []domain.UserRanking {
	rankings := make(map[string]*domain.UserRanking, len(entries))
	for _, e := range entries {
		rankings[e.UserID] = &domain.UserRanking{UserID: e.UserID}
	}

	order := func(score func(domain.LedgerEntry) int64, set func(*domain.UserRanking, int)) {
		sorted := append([]domain.LedgerEntry(nil), entries...)
		sort.SliceStable(sorted, func(i, j int) bool {
			si, sj := score(sorted[i]), score(sorted[j])
			if si != sj {
				return si > sj
			}
			return sorted[i].UserID < sorted[j].UserID
		})
		for i, e := range sorted {
			set(rankings[e.UserID], i+1)
		}
	}

	order(func(e domain.LedgerEntry) int64 { return e.TotalScore },
		func(r *domain.UserRanking, n int) { r.Total = n })
	order(func(e domain.LedgerEntry) int64 { return e.SubmissionScore },
		func(r *domain.UserRanking, n int) { r.Submission = n })
	order(func(e domain.LedgerEntry) int64 { return e.DistributionScore },
		func(r *domain.UserRanking, n int) { r.Distribution = n })

	out := make([]domain.UserRanking, 0, len(rankings))
	for _, r := range rankings {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total < out[j].Total })
	return out
}
