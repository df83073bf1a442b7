package quiz

import (
	"math/rand"

	"github.com/edupulse/examd/internal/domain"
)

// Sanitize produces the client payload for a list of canonical questions: the
// correct option and explanation never leave this function, and each item
// carries its slot index within the session so later calls key on it. With
// shuffle enabled, each question's options are served in a per-session random
// order and the permutation is returned for the session to persist.
//
// orders maps slot -> permutation, where the option displayed at position i is
// the canonical option orders[slot][i]. Slots without an entry are served in
// canonical order.
func Sanitize(questions []domain.Question, shuffle bool) ([]domain.ClientQuestion, map[int][]int) {
	clients := make([]domain.ClientQuestion, 0, len(questions))
	orders := make(map[int][]int)

	for slot, q := range questions {
		cq := domain.ClientQuestion{
			Index:      slot,
			Text:       q.Text,
			ImageURL:   q.ImageURL,
			Marks:      q.Marks,
			UnitTag:    q.UnitTag,
			ChapterTag: q.ChapterTag,
		}

		if shuffle && len(q.Options) > 1 {
			perm := rand.Perm(len(q.Options))
			cq.Options = make([]string, len(q.Options))
			for i, canonical := range perm {
				cq.Options[i] = q.Options[canonical]
			}
			orders[slot] = perm
		} else {
			cq.Options = append([]string(nil), q.Options...)
		}

		clients = append(clients, cq)
	}

	return clients, orders
}

// Resanitize rebuilds the client payload for an existing session using its
// persisted option orders, so resuming a session serves the same ordering it
// was issued with.
func Resanitize(questions []domain.Question, orders map[int][]int) []domain.ClientQuestion {
	clients, _ := Sanitize(questions, false)
	for slot, perm := range orders {
		if slot >= len(clients) || len(perm) != len(clients[slot].Options) {
			continue
		}
		shuffled := make([]string, len(perm))
		for i, canonical := range perm {
			shuffled[i] = questions[slot].Options[canonical]
		}
		clients[slot].Options = shuffled
	}
	return clients
}
