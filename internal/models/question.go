package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// QuestionType identifies the variant of a Question
type QuestionType string

// Question variants
const (
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypePairs          QuestionType = "pairs"
	QuestionTypeSequence       QuestionType = "sequence"
	QuestionTypeFreeChoice     QuestionType = "free_choice"
)

// Valid reports whether t names a known variant
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeTrueFalse, QuestionTypeMultipleChoice, QuestionTypePairs,
		QuestionTypeSequence, QuestionTypeFreeChoice:
		return true
	}
	return false
}

// Question is a closed tagged union: exactly one variant payload is set and it
// matches Type. Values decoded from JSON are guaranteed to satisfy this.
type Question struct {
	Type   QuestionType
	Prompt string

	TrueFalse      *TrueFalseQuestion
	MultipleChoice *MultipleChoiceQuestion
	Pairs          *PairsQuestion
	Sequence       *SequenceQuestion
	FreeChoice     *FreeChoiceQuestion
}

// TrueFalseQuestion is answered with a boolean
type TrueFalseQuestion struct {
	CorrectAnswer bool `json:"correct_answer"`
}

// MultipleChoiceOption is one selectable option
type MultipleChoiceOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// MultipleChoiceQuestion is answered with an option index
type MultipleChoiceQuestion struct {
	Options []MultipleChoiceOption `json:"options"`
}

// PairItem is one left/right row of a pairs question
type PairItem struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// PairsQuestion is answered with "left:right" index tokens
type PairsQuestion struct {
	Pairs []PairItem `json:"pairs"`
}

// SequenceQuestion is answered with the items in order
type SequenceQuestion struct {
	CorrectSequence []string `json:"correct_sequence"`
}

// FreeChoiceQuestion is answered with free text
type FreeChoiceQuestion struct {
	AcceptedAnswers []string `json:"accepted_answers"`
}

// variantFields lists the JSON keys owned by each variant besides "type" and "question"
var variantFields = map[QuestionType][]string{
	QuestionTypeTrueFalse:      {"correct_answer"},
	QuestionTypeMultipleChoice: {"options"},
	QuestionTypePairs:          {"pairs"},
	QuestionTypeSequence:       {"correct_sequence"},
	QuestionTypeFreeChoice:     {"accepted_answers"},
}

// NewTrueFalseQuestion builds a true/false question
func NewTrueFalseQuestion(prompt string, correct bool) Question {
	return Question{Type: QuestionTypeTrueFalse, Prompt: prompt, TrueFalse: &TrueFalseQuestion{CorrectAnswer: correct}}
}

// NewMultipleChoiceQuestion builds a multiple choice question
func NewMultipleChoiceQuestion(prompt string, options ...MultipleChoiceOption) Question {
	return Question{Type: QuestionTypeMultipleChoice, Prompt: prompt, MultipleChoice: &MultipleChoiceQuestion{Options: options}}
}

// NewPairsQuestion builds a pairs question
func NewPairsQuestion(prompt string, pairs ...PairItem) Question {
	return Question{Type: QuestionTypePairs, Prompt: prompt, Pairs: &PairsQuestion{Pairs: pairs}}
}

// NewSequenceQuestion builds a sequence question
func NewSequenceQuestion(prompt string, sequence ...string) Question {
	return Question{Type: QuestionTypeSequence, Prompt: prompt, Sequence: &SequenceQuestion{CorrectSequence: sequence}}
}

// NewFreeChoiceQuestion builds a free choice question
func NewFreeChoiceQuestion(prompt string, accepted ...string) Question {
	return Question{Type: QuestionTypeFreeChoice, Prompt: prompt, FreeChoice: &FreeChoiceQuestion{AcceptedAnswers: accepted}}
}

// MarshalJSON writes the flat wire form: {"type", "question", <variant fields>}
func (q Question) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"type":     q.Type,
		"question": q.Prompt,
	}
	switch q.Type {
	case QuestionTypeTrueFalse:
		if q.TrueFalse != nil {
			out["correct_answer"] = q.TrueFalse.CorrectAnswer
		}
	case QuestionTypeMultipleChoice:
		if q.MultipleChoice != nil {
			out["options"] = q.MultipleChoice.Options
		}
	case QuestionTypePairs:
		if q.Pairs != nil {
			out["pairs"] = q.Pairs.Pairs
		}
	case QuestionTypeSequence:
		if q.Sequence != nil {
			out["correct_sequence"] = q.Sequence.CorrectSequence
		}
	case QuestionTypeFreeChoice:
		if q.FreeChoice != nil {
			out["accepted_answers"] = q.FreeChoice.AcceptedAnswers
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the flat wire form and rejects fields that belong to
// another variant, unknown fields and missing variant payloads.
func (q *Question) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var qType QuestionType
	typeRaw, ok := raw["type"]
	if !ok {
		return fmt.Errorf("question: missing type")
	}
	if err := json.Unmarshal(typeRaw, &qType); err != nil {
		return fmt.Errorf("question: invalid type: %w", err)
	}
	if !qType.Valid() {
		return fmt.Errorf("question: unknown type %q", qType)
	}

	allowed := map[string]bool{"type": true, "question": true}
	for _, f := range variantFields[qType] {
		allowed[f] = true
	}
	var foreign []string
	for key := range raw {
		if !allowed[key] {
			foreign = append(foreign, key)
		}
	}
	if len(foreign) > 0 {
		sort.Strings(foreign)
		return fmt.Errorf("question: fields %s do not belong to type %s", strings.Join(foreign, ", "), qType)
	}

	decoded := Question{Type: qType}
	if promptRaw, ok := raw["question"]; ok {
		if err := json.Unmarshal(promptRaw, &decoded.Prompt); err != nil {
			return fmt.Errorf("question: invalid prompt: %w", err)
		}
	}

	field := variantFields[qType][0]
	payload, ok := raw[field]
	if !ok || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return fmt.Errorf("question: type %s requires %s", qType, field)
	}

	var err error
	switch qType {
	case QuestionTypeTrueFalse:
		decoded.TrueFalse = &TrueFalseQuestion{}
		err = json.Unmarshal(payload, &decoded.TrueFalse.CorrectAnswer)
	case QuestionTypeMultipleChoice:
		decoded.MultipleChoice = &MultipleChoiceQuestion{}
		err = json.Unmarshal(payload, &decoded.MultipleChoice.Options)
	case QuestionTypePairs:
		decoded.Pairs = &PairsQuestion{}
		err = json.Unmarshal(payload, &decoded.Pairs.Pairs)
	case QuestionTypeSequence:
		decoded.Sequence = &SequenceQuestion{}
		err = json.Unmarshal(payload, &decoded.Sequence.CorrectSequence)
	case QuestionTypeFreeChoice:
		decoded.FreeChoice = &FreeChoiceQuestion{}
		err = json.Unmarshal(payload, &decoded.FreeChoice.AcceptedAnswers)
	}
	if err != nil {
		return fmt.Errorf("question: invalid %s: %w", field, err)
	}

	*q = decoded
	return nil
}

// Validate checks the content rules authors must satisfy: the payload matches
// Type and carries enough items to be answerable.
func (q Question) Validate() error {
	set := 0
	for _, present := range []bool{q.TrueFalse != nil, q.MultipleChoice != nil, q.Pairs != nil, q.Sequence != nil, q.FreeChoice != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("question must carry exactly one variant payload, has %d", set)
	}

	switch q.Type {
	case QuestionTypeTrueFalse:
		if q.TrueFalse == nil {
			return fmt.Errorf("true/false question must have a boolean correct_answer")
		}
	case QuestionTypeMultipleChoice:
		if q.MultipleChoice == nil || len(q.MultipleChoice.Options) < 2 {
			return fmt.Errorf("multiple choice question must have at least 2 options")
		}
		hasCorrect := false
		for _, opt := range q.MultipleChoice.Options {
			hasCorrect = hasCorrect || opt.IsCorrect
		}
		if !hasCorrect {
			return fmt.Errorf("multiple choice question must have at least one correct option")
		}
	case QuestionTypePairs:
		if q.Pairs == nil || len(q.Pairs.Pairs) < 2 {
			return fmt.Errorf("pairs question must have at least 2 pairs")
		}
	case QuestionTypeSequence:
		if q.Sequence == nil || len(q.Sequence.CorrectSequence) < 2 {
			return fmt.Errorf("sequence question must have at least 2 items")
		}
	case QuestionTypeFreeChoice:
		if q.FreeChoice == nil || len(q.FreeChoice.AcceptedAnswers) == 0 {
			return fmt.Errorf("free choice question must have at least one accepted answer")
		}
	default:
		return fmt.Errorf("invalid question type %q", q.Type)
	}
	return nil
}

// Answer is a learner's submission. Only the field matching the question's
// variant is consulted; the others are ignored.
type Answer struct {
	Boolean        *bool    `json:"boolean_answer,omitempty" bson:"booleanAnswer,omitempty"`
	SelectedOption *int     `json:"selected_option_index,omitempty" bson:"selectedOptionIndex,omitempty"`
	PairMatches    []string `json:"pair_matches,omitempty" bson:"pairMatches,omitempty"`
	SequenceOrder  []string `json:"sequence_order,omitempty" bson:"sequenceOrder,omitempty"`
	FreeAnswer     *string  `json:"free_answer,omitempty" bson:"freeAnswer,omitempty"`
}
