package validator

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	Setup()
}

func TestAutosaveRequestValidation(t *testing.T) {
	ok := "B"
	bad := "B; DROP"

	req := model.AutosaveRequest{Answers: []model.AnswerEntry{
		{QuestionID: uuid.New(), SelectedOption: &ok},
		{QuestionID: uuid.New()},
	}}
	assert.NoError(t, binding.Validator.ValidateStruct(&req))

	req.Answers[1].SelectedOption = &bad
	err := binding.Validator.ValidateStruct(&req)
	require.Error(t, err)

	fields := TranslateErrors(err)
	require.Len(t, fields, 1)
	for field, msg := range fields {
		assert.Contains(t, field, "selected_option")
		assert.Contains(t, msg, "option key")
	}
}

func TestSubmitRequestReason(t *testing.T) {
	assert.NoError(t, binding.Validator.ValidateStruct(&model.SubmitRequest{Reason: model.ReasonTimeout}))

	err := binding.Validator.ValidateStruct(&model.SubmitRequest{Reason: "bored"})
	require.Error(t, err)
	assert.Contains(t, TranslateErrors(err), "SubmitRequest.reason")
}

func TestTranslateNonValidationError(t *testing.T) {
	fields := TranslateErrors(assert.AnError)
	assert.Equal(t, map[string]string{"detail": assert.AnError.Error()}, fields)
}
