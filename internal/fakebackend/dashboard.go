package fakebackend

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/sparring/internal/domain"
)

const (
	vocabularyGoal    = 500
	conversationGoal  = 20
	weekDays          = 7
	conversationTurns = 3
)

// DashboardStats handles GET /api/dashboard/stats/:user_id. Stats are derived
// from the stored conversations.
func (s *Server) DashboardStats(c echo.Context) error {
	userID := c.Param("user_id")
	now := s.cfg.Now().UTC()

	s.mu.Lock()
	msgs := s.userMessagesLocked(userID)
	var completed int
	for _, sess := range s.sessions {
		if userID != "" && sess.UserID != "" && sess.UserID != userID {
			continue
		}
		var turns int
		for _, m := range s.messages[sess.ID] {
			if m.Sender == domain.SenderUser {
				turns++
			}
		}
		if turns >= conversationTurns {
			completed++
		}
	}
	s.mu.Unlock()

	words := make(map[string]bool)
	days := make(map[string]bool)
	weekStart := now.AddDate(0, 0, -(weekDays - 1))
	for _, m := range msgs {
		for _, w := range strings.Fields(strings.ToLower(m.Text())) {
			words[strings.Trim(w, ".,;:!?¡¿\"'")] = true
		}
		if !m.Timestamp.Before(dayStart(weekStart)) {
			days[dayKey(m.Timestamp)] = true
		}
	}
	delete(words, "")

	var stats domain.DashboardStats
	stats.Vocabulary.Learned = min(len(words), vocabularyGoal)
	stats.Vocabulary.Total = vocabularyGoal
	stats.Conversations.Completed = min(completed, conversationGoal)
	stats.Conversations.Total = conversationGoal
	stats.GrammarScore = domain.Progress{Current: grammarScore(msgs), Total: 100}
	stats.WeeklyProgress.DaysActive = len(days)
	stats.WeeklyProgress.DaysTotal = weekDays

	return c.JSON(http.StatusOK, stats)
}

// Insights handles GET /api/dashboard/insights/:user_id.
func (s *Server) Insights(c echo.Context) error {
	s.mu.Lock()
	msgs := s.userMessagesLocked(c.Param("user_id"))
	s.mu.Unlock()

	insights := []domain.Insight{}
	if len(msgs) == 0 {
		insights = append(insights, domain.Insight{
			ID:      "start",
			Type:    domain.InsightSuggestion,
			Content: "Start a conversation to get personalised feedback.",
		})
		return c.JSON(http.StatusOK, insights)
	}

	var audio int
	for _, m := range msgs {
		if _, ok := m.Content.(domain.AudioContent); ok {
			audio++
		}
	}
	insights = append(insights, domain.Insight{
		ID:      "volume",
		Type:    domain.InsightImprovement,
		Content: "You have sent " + strconv.Itoa(len(msgs)) + " messages. Keep it up!",
	})
	if audio == 0 {
		insights = append(insights, domain.Insight{
			ID:      "speaking",
			Type:    domain.InsightSuggestion,
			Content: "Try a voice message to practise pronunciation.",
		})
	}
	if len(learningErrors(msgs)) > 0 {
		insights = append(insights, domain.Insight{
			ID:      "accents",
			Type:    domain.InsightWarning,
			Content: "Watch out for missing accents and inverted punctuation.",
		})
	}
	return c.JSON(http.StatusOK, insights)
}

// Badges handles GET /api/dashboard/badges/:user_id.
func (s *Server) Badges(c echo.Context) error {
	s.mu.Lock()
	msgs := s.userMessagesLocked(c.Param("user_id"))
	s.mu.Unlock()

	badges := []domain.Badge{}
	if len(msgs) > 0 {
		badges = append(badges, domain.Badge{
			ID:          "first-message",
			Name:        "Primer Paso",
			Description: "Sent your first message",
			EarnedAt:    msgs[0].Timestamp,
			Icon:        "🎉",
		})
	}
	for _, m := range msgs {
		if _, ok := m.Content.(domain.AudioContent); ok {
			badges = append(badges, domain.Badge{
				ID:          "first-voice",
				Name:        "Buena Voz",
				Description: "Sent your first voice message",
				EarnedAt:    m.Timestamp,
				Icon:        "🎤",
			})
			break
		}
	}
	return c.JSON(http.StatusOK, badges)
}

// LearningErrors handles GET /api/dashboard/errors/:user_id.
func (s *Server) LearningErrors(c echo.Context) error {
	s.mu.Lock()
	msgs := s.userMessagesLocked(c.Param("user_id"))
	s.mu.Unlock()

	return c.JSON(http.StatusOK, learningErrors(msgs))
}

// corrections are common unaccented spellings and their fixes.
var corrections = map[string]string{
	"como":    "cómo",
	"esta":    "está",
	"que":     "qué",
	"adios":   "adiós",
	"tambien": "también",
	"mas":     "más",
}

func learningErrors(msgs []domain.Message) []domain.LearningError {
	out := []domain.LearningError{}
	for _, m := range msgs {
		text := m.Text()
		if strings.HasSuffix(strings.TrimSpace(text), "?") && !strings.Contains(text, "¿") {
			out = append(out, domain.LearningError{
				ID:         m.ID + "-q",
				Timestamp:  m.Timestamp,
				Category:   "punctuation",
				Detail:     text,
				Correction: "Questions open with ¿",
			})
		}
		for _, w := range strings.Fields(strings.ToLower(text)) {
			w = strings.Trim(w, ".,;:!?¡¿\"'")
			if fix, ok := corrections[w]; ok {
				out = append(out, domain.LearningError{
					ID:         m.ID + "-" + w,
					Timestamp:  m.Timestamp,
					Category:   "spelling",
					Detail:     w,
					Correction: fix,
				})
			}
		}
	}
	return out
}

func grammarScore(msgs []domain.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	score := 100 - 10*len(learningErrors(msgs))/len(msgs)
	return max(score, 0)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
