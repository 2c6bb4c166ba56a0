package headless

import (
	"encoding/json"
	"fmt"
)

// markRowsScript tags every current listing row as stale and reports whether
// target exists.
func markRowsScript(rowSelector, target string) string {
	return fmt.Sprintf(`(() => {
	document.querySelectorAll(%s).forEach(r => r.setAttribute(%s, "1"));
	return document.querySelector(%s) !== null;
})()`, jsString(rowSelector), jsString(staleAttr), jsString(target))
}

// freshRowsScript is true once the document has finished loading and holds
// listing rows but no stale ones.
func freshRowsScript(rowSelector string) string {
	return fmt.Sprintf(`(() => {
	if (document.readyState === "loading") return false;
	if (document.querySelector(%s) !== null) return false;
	return document.querySelector(%s) !== null;
})()`, jsString("["+staleAttr+"]"), jsString(rowSelector))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
