package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRendering(t *testing.T) {
	r := Record{Speaker: "Layla", Text: "I prefer window seats"}
	assert.Equal(t, "Layla: I prefer window seats", r.Render())
	assert.Equal(t, "- Layla: I prefer window seats", r.Bullet())
}

func TestRecordDecodesSourceFields(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{"id":"m1","user_id":"u1","user_name":"Amira","message":"Book a table","timestamp":"2025-01-01T00:00:00Z"}`), &r)
	require.NoError(t, err)
	assert.Equal(t, Record{Speaker: "Amira", Text: "Book a table", ID: "m1", UserID: "u1", Timestamp: "2025-01-01T00:00:00Z"}, r)
}

func TestNotFoundEncodesEmptySources(t *testing.T) {
	raw, err := json.Marshal(NotFound(""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"I couldn't find relevant information to answer this question.","confidence":0,"sources":[]}`, string(raw))

	custom := NotFound("nothing here")
	assert.Equal(t, "nothing here", custom.Answer)
}

func TestValidateQuestion(t *testing.T) {
	tests := []struct {
		name    string
		q       string
		wantErr error
	}{
		{"plain", "What car does Layla drive?", nil},
		{"empty passes", "", nil},
		{"whitespace passes", "   ", nil},
		{"at limit", strings.Repeat("é", MaxQuestionRunes), nil},
		{"too long", strings.Repeat("a", MaxQuestionRunes+1), ErrQuestionTooLong},
		{"invalid utf8", "bad \xff byte", ErrMalformedQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuestion(tt.q)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrMalformedQuery)

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, "question", ve.Field)
			assert.LessOrEqual(t, len([]rune(ve.Value)), previewRunes+3)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("question", "x", ErrQuestionMissing)
	assert.Equal(t, `validation: question is required: question (value="x")`, err.Error())
	assert.ErrorIs(t, err, ErrQuestionMissing)
	assert.NotErrorIs(t, err, ErrIndexNotReady)
}
