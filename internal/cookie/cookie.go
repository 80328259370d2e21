package cookie

import (
	"net/http"
	"time"

	"github.com/codermrrob/loginbridge/internal/envutil"
)

// MarkerCookie carries the signed flow correlation marker. It sanity-checks
// that a resumed flow belongs to one this bridge started; it is not a
// security boundary on its own.
const MarkerCookie = "bridge_flow"

// SetMarker sets the correlation marker cookie with appropriate security
// settings
func SetMarker(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     MarkerCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// GetMarker retrieves the correlation marker from the request
func GetMarker(r *http.Request) (string, error) {
	c, err := r.Cookie(MarkerCookie)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// ClearMarker removes the correlation marker cookie
func ClearMarker(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   MarkerCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
