package momentum

import "RSIndex/internal/domain/models"

// RankCrossSection fills every rank field of rows, which must all share one date.
// It returns how many rows carry a defined weighted score.
func RankCrossSection(rows []models.MomentumScore) int {
	n := len(rows)
	score := make([]*float64, n)
	r3 := make([]*float64, n)
	r6 := make([]*float64, n)
	r12 := make([]*float64, n)
	for i := range rows {
		score[i] = rows[i].Score
		r3[i] = rows[i].Return3M
		r6[i] = rows[i].Return6M
		r12[i] = rows[i].Return12M
	}

	rs, rk3, rk6, rk12 := PercentileRank(score), PercentileRank(r3), PercentileRank(r6), PercentileRank(r12)
	for i := range rows {
		rows[i].Rank = rs[i]
		rows[i].Rank3M = rk3[i]
		rows[i].Rank6M = rk6[i]
		rows[i].Rank12M = rk12[i]
	}
	return Defined(score)
}
