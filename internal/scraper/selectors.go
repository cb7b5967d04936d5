package scraper

import "github.com/ibeckermayer/slidecrawl/internal/browser"

// Listing page selectors (Element UI pagination).
// These are isolated here because the site's markup is the most fragile contract.
// Update these when crawling breaks.

// Selectors locate the pagination controls of a listing.
type Selectors struct {
	// PageSizeInput accepts a page size, committed with Enter.
	PageSizeInput browser.Locator
	// NextPage is tried in order; the first locator that clicks wins.
	NextPage []browser.Locator
	// LoadingMask is visible while the listing fetches a page.
	LoadingMask browser.Locator
}

var DefaultSelectors = Selectors{
	PageSizeInput: browser.CSS(".page-input input.el-input__inner"),
	NextPage: []browser.Locator{
		browser.CSS(".el-pagination .btn-next"),
		browser.CSS("button.btn-next"),
		browser.JS(`document.querySelector('.el-pagination button.btn-next') || ` +
			`(document.querySelector('.el-pagination .el-icon-arrow-right') || {}).parentElement || null`),
	},
	LoadingMask: browser.CSS(".el-loading-mask"),
}
