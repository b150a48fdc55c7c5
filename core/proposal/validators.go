package proposal

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/ethicsgate/ethicsgate/core"
)

var (
	decisionTag  = "decision"
	decisionText = "invalid decision"

	annotationKindTag  = "annotationkind"
	annotationKindText = "invalid annotation type"
)

// InitValidators registers proposal-specific validators and translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(decisionTag, decisionValidation)
	core.RegisterCustomTranslation(validate, translator, decisionTag, decisionText)

	_ = validate.RegisterValidation(annotationKindTag, annotationKindValidation)
	core.RegisterCustomTranslation(validate, translator, annotationKindTag, annotationKindText)
}

func decisionValidation(fl validator.FieldLevel) bool {
	if d, ok := fl.Field().Interface().(Decision); ok {
		return d.IsValid()
	}
	return Decision(fl.Field().String()).IsValid()
}

func annotationKindValidation(fl validator.FieldLevel) bool {
	if k, ok := fl.Field().Interface().(AnnotationKind); ok {
		return k.IsValid()
	}
	return AnnotationKind(fl.Field().String()).IsValid()
}
