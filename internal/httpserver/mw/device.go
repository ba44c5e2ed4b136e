package mw

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DeviceCookie names the cookie that identifies a browser.
const DeviceCookie = "marks_device"

const deviceCookieMaxAge = 365 * 24 * time.Hour

type deviceKey struct{}

// Device assigns every browser a stable random device id, kept in a cookie.
// The id selects the bookmark client and the session of the browser.
func Device(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			device := ""
			if c, err := r.Cookie(DeviceCookie); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					device = id.String()
				}
			}
			if device == "" {
				device = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     DeviceCookie,
					Value:    device,
					Path:     "/",
					MaxAge:   int(deviceCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), device)))
		})
	}
}

// WithDevice stores device in ctx.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceKey{}, device)
}

// DeviceFrom returns the device id set by Device, or "".
func DeviceFrom(ctx context.Context) string {
	device, _ := ctx.Value(deviceKey{}).(string)
	return device
}
