package normalize

import "testing"

func TestParseCost(t *testing.T) {
	tests := []struct {
		input string
		want  Cost
	}{
		{"200 USD", Cost{Value: 200, Currency: "USD"}},
		{"300", Cost{Value: 300, Currency: "CUP"}},
		{"1,500,000 cup", Cost{Value: 1500000, Currency: "cup"}},
		{"$ 45.50 MLC", Cost{Value: 45.5, Currency: "MLC"}},
		{"", Cost{Value: 0, Currency: "CUP"}},
		{"Precio a convenir", Cost{Value: 0, Currency: "Precio"}},
		{". USD", Cost{Value: 0, Currency: "USD"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseCost(tt.input); got != tt.want {
				t.Errorf("ParseCost(%q) = %+v; want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseViews(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"12,345.67", 12345.67},
		{"", 0},
		{"1604 visitas", 1604},
		{"sin visitas", 0},
	}

	for _, tt := range tests {
		if got := ParseViews(tt.input); got != tt.want {
			t.Errorf("ParseViews(%q) = %v; want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		input string
		want  Location
	}{
		{"Marianao, La Habana", Location{Municipality: "Marianao", State: "La Habana"}},
		{"Havana", Location{State: "Havana"}},
		{"Plaza de la Revolución / La Habana / Cuba", Location{Municipality: "Plaza de la Revolución", State: "La Habana"}},
		{"  Camagüey  ", Location{State: "Camagüey"}},
		{"", Location{}},
		{",,,", Location{}},
		{"La\nHabana", Location{State: "La Habana"}},
		{"Centro\tHabana,\n  La Habana", Location{Municipality: "Centro Habana", State: "La Habana"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLocation(tt.input); got != tt.want {
				t.Errorf("ParseLocation(%q) = %+v; want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractIDFromURL(t *testing.T) {
	const item = "https://www.revolico.com/item/monitor-165hz-52669205-45321094"

	tests := []struct {
		name   string
		url    string
		kind   IDKind
		want   string
		wantOK bool
	}{
		{"product id", item, KindProductID, "45321094", true},
		{"phone number", item, KindPhoneNumber, "52669205", true},
		{"query stripped", item + "?utm=1-2-3", KindProductID, "45321094", true},
		{"single numeric piece product", "/item/laptop-45321094", KindProductID, "", false},
		{"single numeric piece phone", "/item/laptop-45321094", KindPhoneNumber, "", false},
		{"short phone candidate", "/item/casa-playa-47-45321094", KindPhoneNumber, "", false},
		{"short phone keeps product", "/item/casa-playa-47-45321094", KindProductID, "45321094", true},
		{"unknown kind", item, IDKind("other"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractIDFromURL(tt.url, tt.kind)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ExtractIDFromURL(%q, %s) = (%q, %v); want (%q, %v)",
					tt.url, tt.kind, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestBuildFullURL(t *testing.T) {
	tests := []struct {
		base   string
		path   string
		want   string
		wantOK bool
	}{
		{"https://www.revolico.com", "/item/tv-123-456", "https://www.revolico.com/item/tv-123-456", true},
		{"https://www.revolico.com/search?page=2", "item/a-1-2", "https://www.revolico.com/item/a-1-2", true},
		{"https://www.revolico.com", "https://cdn.example.com/x", "https://cdn.example.com/x", true},
		{"", "/item/a", "", false},
		{"https://www.revolico.com", "%zz", "", false},
		{"://bad", "/item/a", "", false},
	}

	for _, tt := range tests {
		got, ok := BuildFullURL(tt.base, tt.path)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("BuildFullURL(%q, %q) = (%q, %v); want (%q, %v)", tt.base, tt.path, got, ok, tt.want, tt.wantOK)
		}
	}
}
