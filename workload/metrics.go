package workload

import (
	"math"
	"time"

	"github.com/CrowderSoup/taskflow/kanban"
)

const (
	day = 24 * time.Hour
	// upcomingWindow is how far ahead a due date counts as upcoming.
	upcomingWindow = 7 * day
	// velocityWindow is the trailing window used for the velocity score.
	velocityWindow = 7 * day

	// UnknownUserName is reported for users with no assignment carrying a name.
	UnknownUserName = "Unknown"
)

// WorkloadSnapshot summarizes one user's current load on one board.
type WorkloadSnapshot struct {
	UserID          string  `json:"userId"`
	UserName        string  `json:"userName"`
	TotalCards      int     `json:"totalCards"`
	CompletedCards  int     `json:"completedCards"`
	InProgressCards int     `json:"inProgressCards"`
	OverdueCards    int     `json:"overdueCards"`
	UpcomingCards   int     `json:"upcomingCards"`
	EstimatedHours  float64 `json:"estimatedHours"`
	WorkloadScore   int     `json:"workloadScore"`
}

// BoardMetrics are point-in-time aggregates over every card on a board.
type BoardMetrics struct {
	TotalLists           int                     `json:"totalLists"`
	TotalCards           int                     `json:"totalCards"`
	CompletedCards       int                     `json:"completedCards"`
	InProgressCards      int                     `json:"inProgressCards"`
	OverdueCards         int                     `json:"overdueCards"`
	CardsCreatedToday    int                     `json:"cardsCreatedToday"`
	CardsCompletedToday  int                     `json:"cardsCompletedToday"`
	ActiveMembers        int                     `json:"activeMembers"`
	AverageCardAge       float64                 `json:"averageCardAge"`
	VelocityScore        int                     `json:"velocityScore"`
	PriorityDistribution map[kanban.Priority]int `json:"priorityDistribution"`
	CompletionRate       float64                 `json:"completionRate"`
}

func overdue(c kanban.Card, now time.Time) bool {
	return !c.Completed() && c.DueDate != nil && c.DueDate.Before(now)
}

func upcoming(c kanban.Card, now time.Time) bool {
	return !c.Completed() && c.DueDate != nil &&
		c.DueDate.After(now) && !c.DueDate.After(now.Add(upcomingWindow))
}

// Score combines card count, overdue count and open estimated hours into a
// 0-100 number. Each term is capped on its own before the sum.
func Score(totalCards, overdueCards int, estimatedHours float64) int {
	cardLoad := math.Min(float64(totalCards)/10*30, 30)
	overdueLoad := math.Min(float64(overdueCards)/5*40, 40)
	hoursLoad := math.Min(estimatedHours/40*30, 30)
	score := math.Round(cardLoad + overdueLoad + hoursLoad)
	// negative estimates are the only way below zero
	return int(math.Max(score, 0))
}

// UserWorkload computes a snapshot from the assignments of one user.
func UserWorkload(userID string, assignments []kanban.Assignment, now time.Time) WorkloadSnapshot {
	snap := WorkloadSnapshot{UserID: userID, UserName: UnknownUserName}
	for _, a := range assignments {
		if a.UserName != "" {
			snap.UserName = a.UserName
			break
		}
	}

	for _, a := range assignments {
		c := a.Card
		snap.TotalCards++
		if c.Completed() {
			snap.CompletedCards++
			continue
		}
		if a.List.InProgress() {
			snap.InProgressCards++
		}
		if overdue(c, now) {
			snap.OverdueCards++
		}
		if upcoming(c, now) {
			snap.UpcomingCards++
		}
		if c.EstimatedHours != nil {
			snap.EstimatedHours += *c.EstimatedHours
		}
	}
	snap.WorkloadScore = Score(snap.TotalCards, snap.OverdueCards, snap.EstimatedHours)
	return snap
}

// StartOfDay zeroes the clock of now in loc.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// BoardMetricsFor computes board-wide metrics. loc decides where "today"
// starts.
func BoardMetricsFor(board *kanban.Board, now time.Time, loc *time.Location) BoardMetrics {
	m := BoardMetrics{
		TotalLists:           len(board.Lists),
		PriorityDistribution: make(map[kanban.Priority]int, len(kanban.Priorities)),
	}
	for _, p := range kanban.Priorities {
		m.PriorityDistribution[p] = 0
	}

	today := StartOfDay(now, loc)
	weekAgo := now.Add(-velocityWindow)
	assignees := make(map[string]struct{})
	var openAgeDays float64
	var openCards int

	for _, l := range board.Lists {
		inProgress := l.InProgress()
		for _, c := range l.Cards {
			m.TotalCards++
			if _, ok := m.PriorityDistribution[c.Priority]; ok {
				m.PriorityDistribution[c.Priority]++
			}
			for _, a := range c.Assignees {
				assignees[a.UserID] = struct{}{}
			}
			if !c.CreatedAt.Before(today) {
				m.CardsCreatedToday++
			}

			if c.Completed() {
				m.CompletedCards++
				if !c.CompletedAt.Before(today) {
					m.CardsCompletedToday++
				}
				if !c.CompletedAt.Before(weekAgo) {
					m.VelocityScore++
				}
				continue
			}

			if inProgress {
				m.InProgressCards++
			}
			if overdue(c, now) {
				m.OverdueCards++
			}
			openCards++
			openAgeDays += now.Sub(c.CreatedAt).Hours() / 24
		}
	}

	m.ActiveMembers = len(assignees)
	if openCards > 0 {
		m.AverageCardAge = openAgeDays / float64(openCards)
	}
	if m.TotalCards > 0 {
		m.CompletionRate = float64(m.CompletedCards) / float64(m.TotalCards) * 100
	}
	return m
}

// Report copies metrics into a new report row dated now.
func Report(boardID string, m BoardMetrics, now time.Time) kanban.BoardReport {
	dist := make(map[kanban.Priority]int, len(m.PriorityDistribution))
	for p, n := range m.PriorityDistribution {
		dist[p] = n
	}
	return kanban.BoardReport{
		BoardID:              boardID,
		ReportDate:           now,
		TotalLists:           m.TotalLists,
		TotalCards:           m.TotalCards,
		CompletedCards:       m.CompletedCards,
		InProgressCards:      m.InProgressCards,
		OverdueCards:         m.OverdueCards,
		CardsCreatedToday:    m.CardsCreatedToday,
		CardsCompletedToday:  m.CardsCompletedToday,
		ActiveMembers:        m.ActiveMembers,
		AverageCardAge:       m.AverageCardAge,
		VelocityScore:        m.VelocityScore,
		PriorityDistribution: dist,
		CompletionRate:       m.CompletionRate,
	}
}
