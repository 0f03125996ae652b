// internal/catalog/validate.go
package catalog

import (
	"context"
	"regexp"
	"time"

	"libraryhub/pkg/validate"
)

var isbnPattern = regexp.MustCompile(`^[0-9-]+$`)

func init() {
	validate.RegisterRule("isbn_digits", validISBN)
}

// validISBN accepts digits and hyphens carrying exactly 10 or 13 digits.
func validISBN(isbn string) bool {
	if !isbnPattern.MatchString(isbn) {
		return false
	}
	digits := 0
	for _, r := range isbn {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits == 10 || digits == 13
}

func checkInput(today time.Time, in any) error {
	return validate.Struct(validate.WithToday(context.Background(), today), in).Err()
}

func (in AuthorInput) validate(today time.Time) error {
	return checkInput(today, in)
}

func (in CategoryInput) validate() error {
	return validate.Struct(context.Background(), in).Err()
}

func (in BookInput) validate(today time.Time) error {
	return checkInput(today, in)
}
