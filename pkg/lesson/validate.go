package lesson

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Violations checks v's struct tags and returns one human-readable message
// per failed field. A nil slice means v is valid.
func Violations(v any) []string {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		out = append(out, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return out
}

// AnswersInChoices reports, for every question whose Answer is not one of its
// Choices, a violation message.
func AnswersInChoices(qs []Question) []string {
	var out []string
	for i, q := range qs {
		found := false
		for _, c := range q.Choices {
			if c == q.Answer {
				found = true
				break
			}
		}
		if !found {
			out = append(out, fmt.Sprintf("questions[%d].answer: %q is not one of the choices", i, q.Answer))
		}
	}
	return out
}
