package models

import (
	"errors"
	"strings"
	"testing"
)

func TestProductSummaryValidate(t *testing.T) {
	valid := ProductSummary{
		Category: "compra-venta",
		URL:      "https://www.revolico.com/item/tv-52669205-45321094",
		Cost:     "200 USD",
		Currency: "USD",
		Price:    200,
	}

	tests := []struct {
		name       string
		mutate     func(p *ProductSummary)
		wantFields []string
	}{
		{"valid", func(p *ProductSummary) {}, nil},
		{"missing category", func(p *ProductSummary) { p.Category = " " }, []string{"category"}},
		{"negative price", func(p *ProductSummary) { p.Price = -1 }, []string{"price"}},
		{"everything missing", func(p *ProductSummary) { *p = ProductSummary{} }, []string{"category", "url", "cost", "currency"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := valid
			tt.mutate(&item)

			err := item.Validate()
			if tt.wantFields == nil {
				if err != nil {
					t.Fatalf("Validate() = %v; want nil", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v; want *ValidationError", err)
			}
			if len(verr.Fields) != len(tt.wantFields) {
				t.Fatalf("got %d field errors, want %d: %v", len(verr.Fields), len(tt.wantFields), verr)
			}
			for i, field := range tt.wantFields {
				if verr.Fields[i].Field != field {
					t.Errorf("field[%d] = %s; want %s", i, verr.Fields[i].Field, field)
				}
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	verr := &ValidationError{}
	if verr.Err() != nil {
		t.Fatal("empty ValidationError should yield nil error")
	}

	verr.Add("category", "Category is required")
	verr.Add("pageNumber", "must be a positive integer")
	msg := verr.Error()
	for _, want := range []string{"category: Category is required", "pageNumber: must be a positive integer"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q; missing %q", msg, want)
		}
	}
}
