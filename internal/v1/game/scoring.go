package game

import "sort"

// ScoreFor computes the score a set of five dice earns in a category.
func ScoreFor(category string, dice []int) int {
	counts := faceCounts(dice)
	switch category {
	case CategoryOnes, CategoryTwos, CategoryThrees, CategoryFours, CategoryFives, CategorySixes:
		face := upperFace(category)
		return counts[face] * face
	case CategoryThreeKind:
		if maxCount(counts) >= 3 {
			return sum(dice)
		}
	case CategoryFourKind:
		if maxCount(counts) >= 4 {
			return sum(dice)
		}
	case CategoryFullHouse:
		if isFullHouse(counts) {
			return 25
		}
	case CategorySmallStraight:
		if longestRun(counts) >= 4 {
			return 30
		}
	case CategoryLargeStraight:
		if longestRun(counts) >= 5 {
			return 40
		}
	case CategoryDicee:
		if maxCount(counts) == 5 {
			return diceeScore
		}
	case CategoryChance:
		return sum(dice)
	}
	return 0
}

// IsDicee reports whether all five dice show the same face.
func IsDicee(dice []int) bool {
	if len(dice) != diceCount {
		return false
	}
	return maxCount(faceCounts(dice)) == diceCount
}

// ValidCategory reports whether the name is a known category.
func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

func upperFace(category string) int {
	switch category {
	case CategoryOnes:
		return 1
	case CategoryTwos:
		return 2
	case CategoryThrees:
		return 3
	case CategoryFours:
		return 4
	case CategoryFives:
		return 5
	default:
		return 6
	}
}

func faceCounts(dice []int) map[int]int {
	counts := make(map[int]int, 6)
	for _, d := range dice {
		counts[d]++
	}
	return counts
}

func maxCount(counts map[int]int) int {
	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	return max
}

func sum(dice []int) int {
	s := 0
	for _, d := range dice {
		s += d
	}
	return s
}

func isFullHouse(counts map[int]int) bool {
	// A five-of-a-kind also satisfies full house in this ruleset.
	if maxCount(counts) == 5 {
		return true
	}
	hasThree, hasTwo := false, false
	for _, c := range counts {
		switch c {
		case 3:
			hasThree = true
		case 2:
			hasTwo = true
		}
	}
	return hasThree && hasTwo
}

func longestRun(counts map[int]int) int {
	faces := make([]int, 0, len(counts))
	for f := range counts {
		faces = append(faces, f)
	}
	sort.Ints(faces)

	best, run := 0, 0
	prev := -10
	for _, f := range faces {
		if f == prev+1 {
			run++
		} else {
			run = 1
		}
		prev = f
		if run > best {
			best = run
		}
	}
	return best
}

// computeRankings sorts players by total score descending. Ties share a rank.
func computeRankings(s *State) []Ranking {
	type entry struct {
		id    string
		name  string
		score int
	}
	entries := make([]entry, 0, len(s.PlayerOrder))
	for _, id := range s.PlayerOrder {
		p := s.Players[id]
		entries = append(entries, entry{id: id, name: p.DisplayName, score: p.TotalScore})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	rankings := make([]Ranking, len(entries))
	for i, e := range entries {
		rank := i + 1
		if i > 0 && e.score == entries[i-1].score {
			rank = rankings[i-1].Rank
		}
		rankings[i] = Ranking{Rank: rank, PlayerID: e.id, DisplayName: e.name, Score: e.score}
	}
	return rankings
}
