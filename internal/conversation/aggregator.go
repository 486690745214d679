package conversation

import (
	"sort"

	"github.com/xelth-com/chatrelay/internal/models"
)

// Source yields sealed records and decrypts the ones the aggregator keeps.
type Source interface {
	// Involving returns the records user sent or received, in append order.
	Involving(user string) []models.Message
	Reveal(m models.Message) models.Message
}

// Aggregator builds per-user inbox views from the message log.
type Aggregator struct {
	src Source
}

// NewAggregator returns an Aggregator reading from src.
func NewAggregator(src Source) *Aggregator {
	return &Aggregator{src: src}
}

// LatestByCounterpart returns, for every room user took part in, the most
// recent message of that room. Most recent conversation first.
// Only the winning record of each room is decrypted.
func (a *Aggregator) LatestByCounterpart(user string) []models.ConversationSummary {
	winners := latest(a.src.Involving(user), user)
	for i := range winners {
		winners[i] = a.src.Reveal(winners[i])
	}
	return summarize(winners, user)
}

// Summarize is the pure form of LatestByCounterpart over an explicit,
// already decrypted log.
func Summarize(log []models.Message, user string) []models.ConversationSummary {
	return summarize(latest(log, user), user)
}

// latest picks the last message of each room involving user, in first-seen room order.
func latest(log []models.Message, user string) []models.Message {
	byRoom := make(map[string]int)
	out := make([]models.Message, 0)

	for _, m := range log {
		if !m.Involves(user) {
			continue
		}
		i, seen := byRoom[m.RoomID]
		if !seen {
			byRoom[m.RoomID] = len(out)
			out = append(out, m)
			continue
		}
		// Equal timestamps: the later record in the log wins.
		if !m.CreatedAt.Before(out[i].CreatedAt) {
			out[i] = m
		}
	}
	return out
}

func summarize(winners []models.Message, user string) []models.ConversationSummary {
	out := make([]models.ConversationSummary, 0, len(winners))
	for _, m := range winners {
		out = append(out, models.ConversationSummary{
			RoomID:               m.RoomID,
			Counterpart:          m.Counterpart(user),
			LastMessagePlaintext: m.Content,
			LastMessageAt:        m.CreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}
