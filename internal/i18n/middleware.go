package i18n

import "net/http"

// Middleware picks the localizer from the Accept-Language header, falling
// back to the default language.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var langs []string
		if al := r.Header.Get("Accept-Language"); al != "" {
			langs = append(langs, al)
		}
		ctx := WithLocalizer(r.Context(), NewLocalizer(langs...))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
