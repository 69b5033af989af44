// Package evaluator scores a learner's answer against a question definition.
// Every function here is pure: malformed answers evaluate to false and nothing panics.
package evaluator

import (
	"strconv"
	"strings"

	"levelquest/internal/models"
)

// Evaluate reports whether answer is correct for q
func Evaluate(q models.Question, answer models.Answer) bool {
	switch q.Type {
	case models.QuestionTypeTrueFalse:
		return q.TrueFalse != nil && evaluateTrueFalse(q.TrueFalse, answer.Boolean)
	case models.QuestionTypeMultipleChoice:
		return q.MultipleChoice != nil && evaluateMultipleChoice(q.MultipleChoice, answer.SelectedOption)
	case models.QuestionTypePairs:
		return q.Pairs != nil && evaluatePairs(q.Pairs, answer.PairMatches)
	case models.QuestionTypeSequence:
		return q.Sequence != nil && evaluateSequence(q.Sequence, answer.SequenceOrder)
	case models.QuestionTypeFreeChoice:
		return q.FreeChoice != nil && evaluateFreeChoice(q.FreeChoice, answer.FreeAnswer)
	}
	return false
}

func evaluateTrueFalse(q *models.TrueFalseQuestion, answer *bool) bool {
	return answer != nil && *answer == q.CorrectAnswer
}

func evaluateMultipleChoice(q *models.MultipleChoiceQuestion, index *int) bool {
	if index == nil || *index < 0 || *index >= len(q.Options) {
		return false
	}
	return q.Options[*index].IsCorrect
}

// evaluatePairs accepts a pairing when both indices resolve to the same right-hand
// value, so rows sharing a right value are interchangeable.
func evaluatePairs(q *models.PairsQuestion, matches []string) bool {
	if len(q.Pairs) == 0 || len(matches) != len(q.Pairs) {
		return false
	}
	for _, token := range matches {
		left, right, ok := parsePairToken(token, len(q.Pairs))
		if !ok {
			return false
		}
		if q.Pairs[left].Right != q.Pairs[right].Right {
			return false
		}
	}
	return true
}

func parsePairToken(token string, n int) (int, int, bool) {
	l, r, found := strings.Cut(token, ":")
	if !found {
		return 0, 0, false
	}
	left, err := strconv.Atoi(strings.TrimSpace(l))
	if err != nil || left < 0 || left >= n {
		return 0, 0, false
	}
	right, err := strconv.Atoi(strings.TrimSpace(r))
	if err != nil || right < 0 || right >= n {
		return 0, 0, false
	}
	return left, right, true
}

func evaluateSequence(q *models.SequenceQuestion, order []string) bool {
	if len(order) != len(q.CorrectSequence) || len(order) == 0 {
		return false
	}
	for i := range order {
		if order[i] != q.CorrectSequence[i] {
			return false
		}
	}
	return true
}

func evaluateFreeChoice(q *models.FreeChoiceQuestion, answer *string) bool {
	if answer == nil {
		return false
	}
	given := normalize(*answer)
	for _, accepted := range q.AcceptedAnswers {
		if normalize(accepted) == given {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CorrectAnswer returns the canonical correct answer shown to the learner as feedback.
// Free choice questions report every accepted answer.
func CorrectAnswer(q models.Question) []string {
	switch q.Type {
	case models.QuestionTypeTrueFalse:
		if q.TrueFalse != nil {
			return []string{strconv.FormatBool(q.TrueFalse.CorrectAnswer)}
		}
	case models.QuestionTypeMultipleChoice:
		if q.MultipleChoice != nil {
			out := []string{}
			for _, opt := range q.MultipleChoice.Options {
				if opt.IsCorrect {
					out = append(out, opt.Text)
				}
			}
			return out
		}
	case models.QuestionTypePairs:
		if q.Pairs != nil {
			out := make([]string, 0, len(q.Pairs.Pairs))
			for _, p := range q.Pairs.Pairs {
				out = append(out, p.Left+":"+p.Right)
			}
			return out
		}
	case models.QuestionTypeSequence:
		if q.Sequence != nil {
			return append([]string{}, q.Sequence.CorrectSequence...)
		}
	case models.QuestionTypeFreeChoice:
		if q.FreeChoice != nil {
			return append([]string{}, q.FreeChoice.AcceptedAnswers...)
		}
	}
	return []string{}
}
