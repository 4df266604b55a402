package validation

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var streamIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

func registerCustom(v *validator.Validate) {
	if err := Register(v, "streamid", ValidateStreamID); err != nil {
		panic(err)
	}
	RegisterAlias(v, "streamids", "required,min=1,dive,streamid")
}

// ValidateStreamID checks the stream ID format: 1 to 128 letters, digits,
// dots, hyphens or underscores. Slashes are excluded because IDs are path
// segments in the media server URL, the API and etcd keys.
func ValidateStreamID(fl validator.FieldLevel) bool {
	return streamIDRegex.MatchString(fl.Field().String())
}

func IsStreamID(id string) bool {
	return streamIDRegex.MatchString(id)
}
