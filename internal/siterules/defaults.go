package siterules

func intPtr(i int) *int { return &i }

// defaultRules covers the storefronts the tracker ships with. Sites added
// later go in the YAML rules file, which overrides these per domain.
func defaultRules() []*SiteRule {
	return []*SiteRule{
		{
			Domain:          "commarker.com",
			Type:            TypeWooCommerce,
			PriceSelectors:  []string{".entry-summary .price ins .amount", ".entry-summary .price .amount", ".product-main .price"},
			AvoidSelectors:  []string{".related .price", ".bundle-price", ".upsells .price"},
			AvoidContexts:   []string{"bundle", "package deal", "related products", "frequently bought"},
			PreferContexts:  []string{"entry-summary", "product-main"},
			PriceRange:      PriceRange{Min: 500, Max: 10000},
			RequiresDynamic: true,
			PreferSalePrice: true,
			Currency:        "USD",
			VariantRules: []VariantRule{
				{
					Keywords: []string{"B6 MOPA 60W"},
					ExpectedPriceRange: &PriceRange{Min: 3000, Max: 6000},
					Steps: []Step{
						{Action: "click_text", SelectorOrText: `B6 MOPA`, WaitMs: 2000},
						{Action: "click_text", SelectorOrText: `60W`, WaitMs: 3000},
					},
				},
				{
					Keywords: []string{"B6", "30W"},
					ExpectedPriceRange: &PriceRange{Min: 1500, Max: 3500},
					Steps: []Step{
						{Action: "click_text", SelectorOrText: `30W`, WaitMs: 3000},
					},
				},
			},
		},
		{
			Domain:         "aeonlaser.us",
			Type:           TypeStaticTable,
			PriceSelectors: []string{".price-table td", "table.pricing td"},
			PriceRange:     PriceRange{Min: 3000, Max: 70000},
			Currency:       "USD",
			VariantRules: []VariantRule{
				{Keywords: []string{"MIRA 5 S"}, ColumnIndex: intPtr(0)},
				{Keywords: []string{"MIRA 7 S"}, ColumnIndex: intPtr(1)},
				{Keywords: []string{"MIRA 9 S"}, ColumnIndex: intPtr(2)},
			},
		},
		{
			Domain:         "emplaser.com",
			Type:           TypeStaticTable,
			PriceSelectors: []string{"table td"},
			PriceRange:     PriceRange{Min: 3000, Max: 70000},
			Currency:       "USD",
			VariantRules: []VariantRule{
				{Keywords: []string{"ST30R"}, ColumnIndex: intPtr(0)},
				{Keywords: []string{"ST30J"}, ColumnIndex: intPtr(1)},
				{Keywords: []string{"ST50R"}, ColumnIndex: intPtr(3)},
				{Keywords: []string{"ST50J"}, ColumnIndex: intPtr(2)},
				{Keywords: []string{"ST60J"}, ColumnIndex: intPtr(4)},
				{Keywords: []string{"ST100J"}, ColumnIndex: intPtr(5)},
			},
		},
		{
			Domain:          "xtool.com",
			Type:            TypeShopify,
			PriceSelectors:  []string{".product-page__price .money", "[data-product-price]", ".price__current"},
			AvoidContexts:   []string{"bundle", "accessories", "recommended"},
			PreferContexts:  []string{"product-page", "product-main"},
			PriceRange:      PriceRange{Min: 200, Max: 20000},
			PreferSalePrice: true,
			Currency:        "USD",
		},
		{
			Domain:          "omtechlaser.com",
			Type:            TypeShopify,
			PriceSelectors:  []string{".product__price .price-item--sale", ".product__price .price-item--regular"},
			AvoidContexts:   []string{"bundle", "related", "you may also like"},
			PriceRange:      PriceRange{Min: 300, Max: 30000},
			PreferSalePrice: true,
			Currency:        "USD",
		},
		{
			Domain:         "onelaser.com",
			Type:           TypeShopify,
			PriceSelectors: []string{".price__current .money", "[data-price]"},
			PriceRange:     PriceRange{Min: 1000, Max: 15000},
			Currency:       "USD",
		},
		{
			Domain:          "thunderlaserusa.com",
			Type:            TypeWooCommerce,
			PriceSelectors:  []string{".entry-summary .price .amount"},
			AvoidContexts:   []string{"related products", "bundle"},
			PreferContexts:  []string{"entry-summary"},
			PriceRange:      PriceRange{Min: 5000, Max: 60000},
			Currency:        "USD",
		},
		{
			Domain:          "gweikecloud.com",
			Type:            TypeShopify,
			PriceSelectors:  []string{".product__price", ".price__sale .money"},
			PriceRange:      PriceRange{Min: 1000, Max: 20000},
			RequiresDynamic: true,
			PreferSalePrice: true,
			Currency:        "USD",
		},
		{
			Domain:          "monportlaser.com",
			Type:            TypeShopify,
			PriceSelectors:  []string{".price--sale .money", ".product__price .money"},
			AvoidContexts:   []string{"bundle", "frequently bought"},
			PriceRange:      PriceRange{Min: 200, Max: 15000},
			PreferSalePrice: true,
			Currency:        "USD",
		},
		{
			Domain:         "bambulab.com",
			Type:           TypeGeneric,
			PriceSelectors: []string{".product-price", "[data-testid=price]"},
			PriceRange:     PriceRange{Min: 200, Max: 5000},
			Currency:       "USD",
		},
		{
			Domain:          "prusa3d.com",
			Type:            TypeGeneric,
			PriceSelectors:  []string{".product-detail__price", ".price-current"},
			PriceRange:      PriceRange{Min: 300, Max: 6000},
			Currency:        "USD",
		},
		{
			Domain:          "avidcnc.com",
			Type:            TypeGeneric,
			PriceSelectors:  []string{".product-price .price", "[itemprop=price]"},
			PriceRange:      PriceRange{Min: 2000, Max: 50000},
			Currency:        "USD",
		},
		{
			Domain:          "shopsabre.com",
			Type:            TypeJSRequired,
			PriceSelectors:  []string{".price-display"},
			PriceRange:      PriceRange{Min: 5000, Max: 100000},
			RequiresDynamic: true,
			Currency:        "USD",
		},
	}
}
