package search

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxQueryLength bounds the query and place name in runes.
const DefaultMaxQueryLength = 100

// SearchRequest is the client submission. Exactly one of Location or the
// Lat/Lng pair must be provided; when both are, the coordinates win.
type SearchRequest struct {
	Query    string   `json:"q" validate:"required"`
	Location *string  `json:"location,omitempty" validate:"omitempty,max=100"`
	Lat      *float64 `json:"lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Lng      *float64 `json:"lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
}

// Input is a validated, trimmed submission ready to persist.
type Input struct {
	Query    string
	Location LocationSpec
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidateRequest trims and validates req. maxQueryLength <= 0 selects the default.
func ValidateRequest(req SearchRequest, maxQueryLength int) (Input, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Location != nil {
		trimmed := strings.TrimSpace(*req.Location)
		req.Location = &trimmed
	}
	if err := validate.Struct(req); err != nil {
		return Input{}, toValidationError(err)
	}
	if err := ValidateQuery(req.Query, maxQueryLength); err != nil {
		return Input{}, err
	}
	if (req.Lat == nil) != (req.Lng == nil) {
		return Input{}, &ValidationError{Field: "lat", Reason: "and lng must be provided together"}
	}

	in := Input{Query: req.Query}
	switch {
	case req.Lat != nil:
		in.Location.Coordinates = &Coordinates{Lat: *req.Lat, Lng: *req.Lng}
	case req.Location != nil && *req.Location != "":
		in.Location.PlaceName = *req.Location
	default:
		return Input{}, &ValidationError{Reason: "either location or lat/lng coordinates are required"}
	}
	return in, nil
}

// ValidateQuery checks a stored or submitted query string.
func ValidateQuery(query string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxQueryLength
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return &ValidationError{Field: "q", Reason: "is required"}
	}
	if utf8.RuneCountInString(q) > maxLength {
		return &ValidationError{Field: "q", Reason: fmt.Sprintf("must be at most %d characters", maxLength)}
	}
	return nil
}

// Validate checks that exactly one location form is populated and in range.
func (l LocationSpec) Validate() error {
	hasName := strings.TrimSpace(l.PlaceName) != ""
	switch {
	case hasName && l.Coordinates != nil:
		return &ValidationError{Field: "location", Reason: "must be either a place name or coordinates, not both"}
	case l.Coordinates != nil:
		return l.Coordinates.Validate()
	case hasName:
		if utf8.RuneCountInString(strings.TrimSpace(l.PlaceName)) > DefaultMaxQueryLength {
			return &ValidationError{
				Field:  "location",
				Reason: fmt.Sprintf("must be at most %d characters", DefaultMaxQueryLength),
			}
		}
		return nil
	default:
		return &ValidationError{Reason: "either location or lat/lng coordinates are required"}
	}
}

// ValidateJobInput re-checks a persisted job's inputs before execution.
func ValidateJobInput(query string, loc LocationSpec, maxQueryLength int) error {
	if err := ValidateQuery(query, maxQueryLength); err != nil {
		return err
	}
	return loc.Validate()
}

// Validate checks the coordinate ranges.
func (c Coordinates) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return &ValidationError{Field: "lat", Reason: "must be between -90 and 90"}
	}
	if c.Lng < -180 || c.Lng > 180 {
		return &ValidationError{Field: "lng", Reason: "must be between -180 and 180"}
	}
	return nil
}

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: fe.Field(), Reason: "is required"}
	case "max":
		return &ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("must be at most %s characters", fe.Param())}
	case "gte", "lte":
		if fe.Field() == "lat" {
			return &ValidationError{Field: "lat", Reason: "must be between -90 and 90"}
		}
		return &ValidationError{Field: "lng", Reason: "must be between -180 and 180"}
	default:
		return &ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("failed %q check", fe.Tag())}
	}
}
