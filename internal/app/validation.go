package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/search"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var (
	queryTypeTag  = fmt.Sprintf("oneof=%s %s %s", model.QueryGeneral, model.QueryPartial, model.QueryParallel)
	categoryTag   = fmt.Sprintf("oneof=%s %s %s", model.DesireSelf, model.DesireTarget, model.DesireThirdParty)
	passionTag    = fmt.Sprintf("min=%d,max=%d", model.MinPassion, model.MaxPassion)
	ratingTag     = fmt.Sprintf("min=%d,max=%d", model.MinRating, model.MaxRating)
	resultTypeTag = fmt.Sprintf("oneof=%s %s %s", search.ResultCandidate, search.ResultChoice, search.ResultMessage)
)

type postMessageRequest struct {
	Content          string   `json:"content" validate:"required,max=4000"`
	CandidateID      *string  `json:"candidateId" validate:"omitempty,max=128"`
	MentionedUserIDs []string `json:"mentionedUserIds" validate:"omitempty,max=100,dive,required"`
}

type markReadRequest struct {
	NotificationIDs []string `json:"notificationIds" validate:"required,max=100,dive,required"`
}

type inviteRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

// validateRequest runs struct tags and turns failures into one 422.
func validateRequest(body any) error {
	err := validate.Struct(body)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, formatFieldError(fieldPath(fe), fe))
	}
	return validationFailure(messages)
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func formatFieldError(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Kind() == reflect.Int {
			return fmt.Sprintf("%s must be at least %s", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		switch fe.Kind() {
		case reflect.Int:
			return fmt.Sprintf("%s must be at most %s", field, fe.Param())
		case reflect.Slice:
			return fmt.Sprintf("%s must have at most %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "dive":
		return fmt.Sprintf("%s contains invalid values", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func validationFailure(messages []string) error {
	return validationFailed(strings.Join(messages, "; "), map[string]any{"fields": messages})
}

// validateSnapshot checks the enumerations and ranges a save must respect.
// Identity checks belong to the reconciliation engine.
func validateSnapshot(snap model.Snapshot) error {
	var messages []string
	check := func(field string, value any, tag string) {
		err := validate.Var(value, tag)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				messages = append(messages, formatFieldError(field, fe))
			}
		}
	}

	for i, sp := range snap.SubProblems {
		for j, q := range sp.SearchQueries {
			check(fmt.Sprintf("subProblems[%d].searchQueries[%d].type", i, j), string(q.Type), queryTypeTag)
		}
	}
	for i, c := range snap.Candidates {
		for member, level := range c.Reactions {
			check(fmt.Sprintf("candidates[%d].reactions.%s", i, member), level, passionTag)
		}
	}
	for i, d := range snap.Desires {
		check(fmt.Sprintf("desires[%d].category", i), string(d.Category), categoryTag)
	}
	for i, idea := range snap.SavedIdeas {
		for desire, rating := range idea.Ratings {
			check(fmt.Sprintf("savedIdeas[%d].ratings.%s", i, desire), rating, ratingTag)
		}
	}
	if len(messages) == 0 {
		return nil
	}
	return validationFailure(messages)
}

func validateSearch(in SearchInput) error {
	var messages []string
	if in.Type != "" {
		if err := validate.Var(in.Type, resultTypeTag); err != nil {
			messages = append(messages, "type must be one of: "+strings.TrimPrefix(resultTypeTag, "oneof="))
		}
	}
	if in.Limit < 0 || in.Limit > 100 {
		messages = append(messages, "limit must be between 0 and 100")
	}
	if in.Offset < 0 {
		messages = append(messages, "offset must not be negative")
	}
	if len(messages) == 0 {
		return nil
	}
	return validationFailure(messages)
}
