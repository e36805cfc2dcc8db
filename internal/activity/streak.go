package activity

// Milestones are the streak lengths that earn a notification.
var Milestones = []int{7, 30, 100}

// RiskWindow is how far back the latest active day may be before a streak
// counts as broken: today (0) or yesterday (1).
const RiskWindow = 1

// Streak counts consecutive active UTC days ending at the most recent active
// day, which must be today or yesterday; otherwise the streak is broken and
// Streak returns 0. Days after today are ignored.
func Streak(cal Calendar, today Day) int {
	return runLength(func(d Day) bool { return cal.Active(d) }, latestActive(cal, today), today)
}

// MutualStreak is Streak over the days on which both calendars are active,
// counting only days on or after start.
func MutualStreak(a, b Calendar, start, today Day) int {
	both := func(d Day) bool { return d >= start && a.Active(d) && b.Active(d) }

	latest, ok := Day(0), false
	for _, d := range a.ActiveDays() {
		if d > today {
			continue
		}
		if both(d) {
			latest, ok = d, true
			break
		}
	}
	if !ok {
		return 0
	}
	return runLength(both, latest, today)
}

// runLength counts backward from latest while active holds. It returns 0
// when latest is older than yesterday.
func runLength(active func(Day) bool, latest, today Day) int {
	if !active(latest) || today-latest > RiskWindow {
		return 0
	}
	n := 0
	for d := latest; active(d); d-- {
		n++
	}
	return n
}

// latestActive returns the most recent active day not after today, or
// today+1 (never active) when there is none.
func latestActive(cal Calendar, today Day) Day {
	for _, d := range cal.ActiveDays() {
		if d <= today {
			return d
		}
	}
	return today + 1
}

// DetectMilestone reports whether streak is exactly one of the Milestones.
func DetectMilestone(streak int) bool {
	for _, m := range Milestones {
		if streak == m {
			return true
		}
	}
	return false
}

// CrossedMilestone returns the largest milestone m with previous < m <= current.
func CrossedMilestone(previous, current int) (int, bool) {
	crossed, ok := 0, false
	for _, m := range Milestones {
		if previous < m && m <= current {
			crossed, ok = m, true
		}
	}
	return crossed, ok
}

// IsAtRisk reports a streak that lapses at the next UTC rollover: the streak
// is positive but neither today nor yesterday shows activity.
func IsAtRisk(cal Calendar, streak int, today Day) bool {
	return streak > 0 && !cal.Active(today) && !cal.Active(today-1)
}
