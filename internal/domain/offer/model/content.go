package model

import (
	"encoding/json"
	"fmt"
)

// poll/quiz 的页面定义与答题载荷
// poll 答案原样入库，quiz 按答对页面的 amount 求和计分

// Question 单页题目
type Question struct {
	ID      string   `json:"id"`
	Answers []string `json:"answers"`
}

// QuizPage quiz 页面：答对记 Amount 分
type QuizPage struct {
	Question    Question `json:"question"`
	RightAnswer string   `json:"right_answer"`
	Amount      int64    `json:"amount"`
}

// QuizContent quiz 内容
type QuizContent struct {
	Pages []QuizPage `json:"pages"`
}

// PollPage poll 页面，没有对错
type PollPage struct {
	Question Question `json:"question"`
}

// PollContent poll 内容
type PollContent struct {
	Pages []PollPage `json:"pages"`
}

// Answers 提交的答案：question id -> 所选答案
type Answers map[string]string

// ParseAnswers 解析提交的答题载荷
func ParseAnswers(raw string) (Answers, error) {
	var answers Answers
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		return nil, fmt.Errorf("malformed answers payload: %w", err)
	}
	return answers, nil
}

// ScoreQuiz 按答对页面的 amount 求和
// 答错或没答的页面不计分；总分为 0 时保底记 1，参与者不会一无所获
func (q *QuizContent) ScoreQuiz(answers Answers) int64 {
	var sum int64
	for _, page := range q.Pages {
		if answers[page.Question.ID] == page.RightAnswer {
			sum += page.Amount
		}
	}
	if sum == 0 {
		sum = 1
	}
	return sum
}
