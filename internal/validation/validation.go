package validation

import (
	"errors"
	"fmt"
	"mime/multipart"
	"reflect"
	"strings"
	"sync"

	"github.com/fedutinova/retinascan/internal/common"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

const (
	MaxFileSize = 20 << 20 // 20mb
	MaxMaskSize = 10 << 20
)

// AllowedImageTypes lists what the decoders in imageio can read.
var AllowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
	"image/webp": true,
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool {
	return target == common.ErrValidation
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report yaml names so errors match what users write in preset files
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("odd", func(fl validator.FieldLevel) bool {
			return fl.Field().Int()%2 == 1
		})
	})
	return validate
}

// Struct runs the validate tags on v and converts failures to common.ConfigErrors.
func Struct(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", common.ErrConfiguration, err)
	}

	out := make(common.ConfigErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, common.ConfigError{
			Field:   fieldPath(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return out.Err()
}

// fieldPath drops the root struct name: "Preset.dark.min_area" -> "dark.min_area".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "gtefield":
		return "must not be less than " + fe.Param()
	case "ltfield":
		return "must be less than " + fe.Param()
	case "odd":
		return "must be an odd number"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// ValidateImageUpload checks a multipart image before it is stored.
// head is the first bytes of the file, used for content sniffing.
func ValidateImageUpload(field string, fh *multipart.FileHeader, head []byte, maxSize int64) ValidationErrors {
	var errs ValidationErrors

	if fh == nil {
		return append(errs, ValidationError{Field: field, Message: "file is required"})
	}

	if fh.Size == 0 {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("file %s is empty", fh.Filename),
		})
		return errs
	}

	if fh.Size > maxSize {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("file %s exceeds maximum size of %d bytes", fh.Filename, maxSize),
		})
	}

	mt := mimetype.Detect(head)
	if !AllowedImageTypes[mt.String()] {
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("file %s has unsupported content type: %s", fh.Filename, mt.String()),
		})
	}

	return errs
}
