package schedule

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Result is the outcome of one due item processed in a run.
type Result struct {
	ID      uint
	Name    string
	Success bool
	// Skipped is set when another invocation already held the item.
	Skipped bool
	Message string
	NextRun *time.Time
}

func (r Result) String() string {
	status := "ok"
	switch {
	case r.Skipped:
		status = "skipped"
	case !r.Success:
		status = "failed"
	}
	next := "none"
	if r.NextRun != nil {
		next = r.NextRun.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("#%d %s: %s (%s), next run %s", r.ID, r.Name, status, r.Message, next)
}

// NewValidator returns a validator that understands the "frequency" tag.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("frequency", func(fl validator.FieldLevel) bool {
		_, err := ParseFrequency(fl.Field().String())
		return err == nil
	})
	return v
}
