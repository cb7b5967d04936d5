package inspect

import (
	"encoding/json"
	"fmt"
)

// The listing and the challenge are Vue 2 applications: every rendered node
// carries a __vue__ back-reference to its component instance. All scripts
// below only read that state.

const totalScript = `(() => {
	const fields = %s;
	const visit = (el) => {
		const vm = el.__vue__;
		if (vm) {
			const data = vm.$data || {};
			const total = data[fields.total];
			if (total !== undefined && total !== null) {
				return {
					total: Number(total) || 0,
					pageSize: Number(data[fields.pageSize]) || 0,
					currentPage: Number(data[fields.currentPage]) || 1,
				};
			}
		}
		for (const child of el.children) {
			const found = visit(child);
			if (found) return found;
		}
		return null;
	};
	return document.body ? visit(document.body) : null;
})()`

const recordsScript = `(() => {
	const required = %s;
	const matches = (item) => item !== null && typeof item === 'object' &&
		required.every((f) => item[f] !== undefined && item[f] !== null && item[f] !== '');
	let best = null;
	const consider = (val) => {
		if (Array.isArray(val) && val.length > 0 && matches(val[0]) && (best === null || val.length > best.length)) {
			best = val;
		}
	};
	const visit = (el) => {
		const vm = el.__vue__;
		if (vm) {
			const data = vm.$data || {};
			for (const key in data) consider(data[key]);
			if (vm._computedWatchers) {
				for (const key in vm._computedWatchers) {
					try { consider(vm[key]); } catch (e) {}
				}
			}
		}
		for (const child of el.children) visit(child);
	};
	if (document.body) visit(document.body);
	return best;
})()`

const gapScript = `(() => {
	const el = document.getElementById(%s);
	if (!el || !el.__vue__) return null;
	const v = el.__vue__[%s];
	return typeof v === 'number' && isFinite(v) ? Math.round(v) : null;
})()`

// TotalFields names the pagination fields of the listing's component state.
type TotalFields struct {
	Total       string `json:"total"`
	PageSize    string `json:"pageSize"`
	CurrentPage string `json:"currentPage"`
}

// DefaultTotalFields are the Element UI pagination field names.
var DefaultTotalFields = TotalFields{Total: "total", PageSize: "pageSize", CurrentPage: "currentPage"}

// GapSource names the challenge component and its gap-offset field.
type GapSource struct {
	ElementID string
	Field     string
}

// DefaultGapSource is the slide-verify component's horizontal block position.
var DefaultGapSource = GapSource{ElementID: "slideVerify", Field: "block_x"}

func jsLiteral(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// only called with strings, string slices and plain structs
		panic(err)
	}
	return string(b)
}

// TotalScript returns the script locating the pagination total.
func TotalScript(f TotalFields) string {
	return fmt.Sprintf(totalScript, jsLiteral(f))
}

// GapScript returns the script reading the challenge gap offset.
func GapScript(g GapSource) string {
	return fmt.Sprintf(gapScript, jsLiteral(g.ElementID), jsLiteral(g.Field))
}
