package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func quizFixture() *QuizContent {
	return &QuizContent{
		Pages: []QuizPage{
			{Question: Question{ID: "q1", Answers: []string{"a", "b"}}, RightAnswer: "a", Amount: 10},
			{Question: Question{ID: "q2", Answers: []string{"c", "d"}}, RightAnswer: "d", Amount: 20},
			{Question: Question{ID: "q3", Answers: []string{"e", "f"}}, RightAnswer: "e", Amount: 5},
		},
	}
}

func TestScoreQuiz(t *testing.T) {
	quiz := quizFixture()

	t.Run("sums the amounts of correctly answered pages", func(t *testing.T) {
		score := quiz.ScoreQuiz(Answers{"q1": "a", "q2": "d", "q3": "e"})
		assert.Equal(t, int64(35), score)
	})

	t.Run("wrong and missing answers earn nothing", func(t *testing.T) {
		score := quiz.ScoreQuiz(Answers{"q1": "b", "q2": "d"})
		assert.Equal(t, int64(20), score)
	})

	t.Run("a fully wrong quiz still pays the floor of one", func(t *testing.T) {
		score := quiz.ScoreQuiz(Answers{"q1": "b", "q2": "c", "q3": "f"})
		assert.Equal(t, int64(1), score)
	})
}

func TestParseAnswers(t *testing.T) {
	answers, err := ParseAnswers(`{"q1":"a","q2":"d"}`)
	assert.NoError(t, err)
	assert.Equal(t, "a", answers["q1"])

	_, err = ParseAnswers(`not json`)
	assert.Error(t, err)
}
