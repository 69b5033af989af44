package content

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"levelquest/internal/models"
	contextutils "levelquest/internal/utils"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed questions.schema.json
var questionsSchemaJSON []byte

var (
	questionsSchema     *gojsonschema.Schema
	questionsSchemaErr  error
	questionsSchemaOnce sync.Once
)

func loadQuestionsSchema() (*gojsonschema.Schema, error) {
	questionsSchemaOnce.Do(func() {
		questionsSchema, questionsSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(questionsSchemaJSON))
	})
	return questionsSchema, questionsSchemaErr
}

// DecodeQuestions validates a stored questions document against the question
// schema and decodes it into the tagged union.
func DecodeQuestions(raw []byte) ([]models.Question, error) {
	schema, err := loadQuestionsSchema()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to load questions schema")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrValidationFailed, "questions document is not valid JSON: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, contextutils.WrapErrorf(contextutils.ErrValidationFailed, "questions failed schema validation: %s", strings.Join(msgs, "; "))
	}

	var questions []models.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrValidationFailed, "failed to decode questions: %v", err)
	}
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrValidationFailed, "question %d: %v", i, err)
		}
	}
	return questions, nil
}

// EncodeQuestions renders questions in the stored wire form
func EncodeQuestions(questions []models.Question) ([]byte, error) {
	if questions == nil {
		questions = []models.Question{}
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode questions: %w", err)
	}
	return data, nil
}
