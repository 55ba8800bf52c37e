package scraper

// Selectors are the CSS selectors used against the classifieds markup.
// The defaults match the site's generated class names, which change with
// redeploys, so they are overridable from configuration.
type Selectors struct {
	ListContainer string `mapstructure:"list_container" yaml:"list_container"`
	Item          string `mapstructure:"item" yaml:"item"`
	ItemLink      string `mapstructure:"item_link" yaml:"item_link"`
	ItemPrice     string `mapstructure:"item_price" yaml:"item_price"`
	ItemText      string `mapstructure:"item_text" yaml:"item_text"`
	ItemImage     string `mapstructure:"item_image" yaml:"item_image"`
	Outstanding   string `mapstructure:"outstanding" yaml:"outstanding"`
	NextPage      string `mapstructure:"next_page" yaml:"next_page"`
	DisabledClass string `mapstructure:"disabled_class" yaml:"disabled_class"`

	InfoContainer   string `mapstructure:"info_container" yaml:"info_container"`
	Views           string `mapstructure:"views" yaml:"views"`
	Location        string `mapstructure:"location" yaml:"location"`
	SellerContainer string `mapstructure:"seller_container" yaml:"seller_container"`
	SellerName      string `mapstructure:"seller_name" yaml:"seller_name"`
	WhatsAppLink    string `mapstructure:"whatsapp_link" yaml:"whatsapp_link"`
	PhoneLink       string `mapstructure:"phone_link" yaml:"phone_link"`
	EmailLink       string `mapstructure:"email_link" yaml:"email_link"`
}

// DefaultSelectors returns the selectors for the current site layout.
func DefaultSelectors() Selectors {
	return Selectors{
		ListContainer: "div.ybloC",
		Item:          "ul > li",
		ItemLink:      "a",
		ItemPrice:     "span",
		ItemText:      "p",
		ItemImage:     "picture img",
		Outstanding:   "div.dHRSzq",
		NextPage:      "a#paginator-next",
		DisabledClass: "disabled",

		InfoContainer:   "div.bzsCgK",
		Views:           "p.cZACiy",
		Location:        `p[data-cy="adLocation"]`,
		SellerContainer: "div.fmEzaW",
		SellerName:      `p[data-cy="adName"]`,
		WhatsAppLink:    `a[href^="https://wa.me/"]`,
		PhoneLink:       `a[href^="tel:"]`,
		EmailLink:       `a[href^="mailto:"]`,
	}
}

// withDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&s.ListContainer, d.ListContainer)
	fill(&s.Item, d.Item)
	fill(&s.ItemLink, d.ItemLink)
	fill(&s.ItemPrice, d.ItemPrice)
	fill(&s.ItemText, d.ItemText)
	fill(&s.ItemImage, d.ItemImage)
	fill(&s.Outstanding, d.Outstanding)
	fill(&s.NextPage, d.NextPage)
	fill(&s.DisabledClass, d.DisabledClass)
	fill(&s.InfoContainer, d.InfoContainer)
	fill(&s.Views, d.Views)
	fill(&s.Location, d.Location)
	fill(&s.SellerContainer, d.SellerContainer)
	fill(&s.SellerName, d.SellerName)
	fill(&s.WhatsAppLink, d.WhatsAppLink)
	fill(&s.PhoneLink, d.PhoneLink)
	fill(&s.EmailLink, d.EmailLink)
	return s
}
