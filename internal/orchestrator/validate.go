package orchestrator

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"cardgen/internal/domain"
)

var httpURL = regexp.MustCompile(`^https?://\S+$`)

var kinds = []any{
	domain.JobKindPhotoSet,
	domain.JobKindRegenerate,
	domain.JobKindDescription,
	domain.JobKindEdit,
	domain.JobKindVideo,
}

func (o *Orchestrator) validate(req CreateRequest) error {
	maxUnits := 1
	if req.Kind.MultiUnit() {
		maxUnits = o.maxUnits
	}
	fields := map[string]string{}

	err := validation.ValidateStruct(&req,
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.Kind, validation.Required, validation.In(kinds...).Error("unsupported job kind")),
		validation.Field(&req.Units, validation.Required, validation.Min(1), validation.Max(maxUnits)),
		validation.Field(&req.Provider, validation.Required.Error("no provider configured for this kind"),
			validation.By(func(any) error {
				if o.available != nil && req.Kind.Valid() && !o.available(req.Kind, req.Provider) {
					return errors.New("provider is not available")
				}
				return nil
			})),
	)
	collect(fields, "", err)

	p := req.Payload
	err = validation.ValidateStruct(&p,
		validation.Field(&p.ProductName, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Category, validation.Length(0, 100)),
		validation.Field(&p.Benefits, validation.Length(0, 10), validation.Each(validation.Length(1, 200))),
		validation.Field(&p.SourceImages,
			validation.When(req.Kind.RequiresSource(), validation.Required.Error("at least one source image is required")),
			validation.Each(validation.Required, validation.Match(httpURL).Error("must be an http(s) URL"))),
		validation.Field(&p.EditInstructions,
			validation.When(req.Kind == domain.JobKindEdit, validation.Required),
			validation.Length(0, 1000)),
		validation.Field(&p.UnitType,
			validation.When(req.Kind == domain.JobKindRegenerate, validation.In(slots()...).Error("unknown card slot"))),
	)
	collect(fields, "payload.", err)

	if len(fields) == 0 {
		return nil
	}
	return &domain.ValidationError{Fields: fields}
}

func collect(fields map[string]string, prefix string, err error) {
	if err == nil {
		return
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		fields[prefix+"_"] = err.Error()
		return
	}
	keys := make([]string, 0, len(verrs))
	for k := range verrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if nested, ok := verrs[k].(validation.Errors); ok {
			collect(fields, fmt.Sprintf("%s%s.", prefix, k), nested)
			continue
		}
		fields[prefix+k] = verrs[k].Error()
	}
}

func slots() []any {
	out := make([]any, len(domain.CardSlots))
	for i, s := range domain.CardSlots {
		out[i] = s
	}
	return out
}
