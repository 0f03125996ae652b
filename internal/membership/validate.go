// internal/membership/validate.go
package membership

import (
	"context"
	"regexp"
	"strings"
	"time"

	"libraryhub/pkg/validate"
)

const minPasswordLength = 8

var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

func init() {
	validate.RegisterRule("phone", phonePattern.MatchString)
}

// normalize trims fields, lower-cases the email and fills the defaults a
// new registration gets.
func (in *MemberInput) normalize(today time.Time) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	if in.MembershipDate.IsZero() {
		in.MembershipDate.Time = today
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
}

func (in MemberInput) validate(today time.Time, registering bool) error {
	p := validate.Struct(validate.WithToday(context.Background(), today), in)
	if _, err := ParseStatus(string(in.Status)); err != nil {
		p.Check(false, err.Error())
	}
	if registering && in.Password != "" {
		p.Check(len(in.Password) >= minPasswordLength, "password must be at least 8 characters")
	}
	return p.Err()
}
